package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ownerCtx(owner string) context.Context {
	return identity.WithContext(context.Background(), identity.Identity{OwnerID: owner, UserID: "u-" + owner})
}

func invoices(owner string) document.CollectionPath {
	return document.NewCollectionPath(owner, document.ResourceInvoices)
}

// runStoreSuite checks the behaviour every document.Store implementation shares
func runStoreSuite(t *testing.T, newStore func(t *testing.T) document.Store) {
	t.Run("create then get round trips data", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")

		created, err := store.Create(ctx, invoices("o1"), "inv-1", document.Record{"number": "INV-1", "party": "Acme"})
		require.NoError(t, err)
		assert.Equal(t, "inv-1", created.ID)
		assert.Equal(t, "owner/o1/invoices/inv-1", created.Path)

		got, err := store.Get(ctx, invoices("o1").Doc("inv-1"))
		require.NoError(t, err)
		assert.Equal(t, "INV-1", got.Data["number"])
		assert.Equal(t, "Acme", got.Data["party"])
		assert.True(t, got.CreateTime.Equal(fixedNow))
	})

	t.Run("create assigns an id when none given", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ownerCtx("o1"), invoices("o1"), "", document.Record{"number": "INV-2"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
	})

	t.Run("create of an existing id fails with already-exists", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		_, err := store.Create(ctx, invoices("o1"), "dup", document.Record{})
		require.NoError(t, err)
		_, err = store.Create(ctx, invoices("o1"), "dup", document.Record{})
		assert.Equal(t, document.CodeAlreadyExists, document.CodeOf(err))
	})

	t.Run("server timestamps resolve to the store clock", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		created, err := store.Create(ctx, invoices("o1"), "ts", document.Record{"issueDate": document.ServerTimestamp})
		require.NoError(t, err)

		v, ok := created.Field("issueDate")
		require.True(t, ok)
		assert.Equal(t, 0, document.Compare(v, fixedNow))
	})

	t.Run("update merges top-level fields", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		_, err := store.Create(ctx, invoices("o1"), "inv-1", document.Record{"number": "INV-1", "party": "Acme"})
		require.NoError(t, err)

		updated, err := store.Update(ctx, invoices("o1").Doc("inv-1"), document.Record{"party": "Globex"})
		require.NoError(t, err)
		assert.Equal(t, "INV-1", updated.Data["number"])
		assert.Equal(t, "Globex", updated.Data["party"])
	})

	t.Run("update of a missing document is not-found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Update(ownerCtx("o1"), invoices("o1").Doc("missing"), document.Record{"a": 1})
		assert.True(t, document.IsNotFound(err))
	})

	t.Run("set creates then replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		path := invoices("o1").Doc("s1")

		_, err := store.Set(ctx, path, document.Record{"a": "1", "b": "2"})
		require.NoError(t, err)
		replaced, err := store.Set(ctx, path, document.Record{"a": "3"})
		require.NoError(t, err)
		assert.Equal(t, "3", replaced.Data["a"])
		_, hasB := replaced.Data["b"]
		assert.False(t, hasB)
	})

	t.Run("delete removes and a second delete is not-found", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		path := invoices("o1").Doc("d1")
		_, err := store.Create(ctx, path.Collection, path.ID, document.Record{})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, path))
		_, err = store.Get(ctx, path)
		assert.True(t, document.IsNotFound(err))
		assert.True(t, document.IsNotFound(store.Delete(ctx, path)))
	})

	t.Run("foreign owner is permission-denied", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ownerCtx("o1"), invoices("o1"), "x", document.Record{})
		require.NoError(t, err)

		_, err = store.Get(ownerCtx("o2"), invoices("o1").Doc("x"))
		assert.True(t, document.IsPermissionDenied(err))
		_, err = store.Query(ownerCtx("o2"), invoices("o1"), document.Query{})
		assert.True(t, document.IsPermissionDenied(err))
		_, err = store.Query(context.Background(), invoices("o1"), document.Query{})
		assert.True(t, document.IsPermissionDenied(err))
	})

	t.Run("query filters orders and pages", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		for i := 1; i <= 5; i++ {
			status := "draft"
			if i%2 == 0 {
				status = "paid"
			}
			_, err := store.Create(ctx, invoices("o1"), fmt.Sprintf("inv-%d", i), document.Record{
				"number": fmt.Sprintf("INV-%d", i),
				"total":  float64(i * 10),
				"status": status,
			})
			require.NoError(t, err)
		}

		q := document.Query{Shape: document.Shape{OrderBy: "total", Direction: document.Desc}, Limit: 2}
		page, err := store.Query(ctx, invoices("o1"), q)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "inv-5", page[0].ID)
		assert.Equal(t, "inv-4", page[1].ID)

		pos := document.PositionOf(page[1], "total")
		q.StartAfter = &pos
		next, err := store.Query(ctx, invoices("o1"), q)
		require.NoError(t, err)
		require.Len(t, next, 2)
		assert.Equal(t, "inv-3", next[0].ID)
		assert.Equal(t, "inv-2", next[1].ID)

		drafts, err := store.Query(ctx, invoices("o1"), document.Where("status", document.OpEqual, "draft"))
		require.NoError(t, err)
		assert.Len(t, drafts, 3)
	})

	t.Run("collections are isolated per owner", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ownerCtx("o1"), invoices("o1"), "a", document.Record{})
		require.NoError(t, err)
		_, err = store.Create(ownerCtx("o2"), invoices("o2"), "b", document.Record{})
		require.NoError(t, err)

		docs, err := store.Query(ownerCtx("o2"), invoices("o2"), document.Query{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "b", docs[0].ID)
	})

	t.Run("listen delivers initial and changed results", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")

		var mu sync.Mutex
		var deliveries [][]document.Snapshot
		stop := store.Listen(ctx, invoices("o1"), document.Query{}, func(s []document.Snapshot) {
			mu.Lock()
			deliveries = append(deliveries, s)
			mu.Unlock()
		}, func(err error) {
			t.Errorf("unexpected listener error: %v", err)
		})
		defer stop()

		count := func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(deliveries)
		}
		require.Eventually(t, func() bool { return count() >= 1 }, time.Second, 5*time.Millisecond)

		_, err := store.Create(ctx, invoices("o1"), "live", document.Record{"number": "L-1"})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			last := deliveries[len(deliveries)-1]
			return len(last) == 1 && last[0].ID == "live"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("listen reports permission errors once and stops", func(t *testing.T) {
		store := newStore(t)
		errCh := make(chan error, 4)
		stop := store.Listen(ownerCtx("o2"), invoices("o1"), document.Query{}, func([]document.Snapshot) {
			t.Error("no snapshot expected")
		}, func(err error) {
			errCh <- err
		})
		defer stop()

		select {
		case err := <-errCh:
			assert.True(t, document.IsPermissionDenied(err))
		case <-time.After(time.Second):
			t.Fatal("listener error not delivered")
		}
		stop()
		stop()
	})

	t.Run("no callback after stop", func(t *testing.T) {
		store := newStore(t)
		ctx := ownerCtx("o1")
		var mu sync.Mutex
		calls := 0
		stop := store.Listen(ctx, invoices("o1"), document.Query{}, func([]document.Snapshot) {
			mu.Lock()
			calls++
			mu.Unlock()
		}, nil)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 1
		}, time.Second, 5*time.Millisecond)
		stop()

		_, err := store.Create(ctx, invoices("o1"), "after", document.Record{})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
	})
}
