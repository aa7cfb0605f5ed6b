package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormDocumentStore is a document.Store over a single documents table.
// Queries load the collection and evaluate filters, ordering and cursors in
// process with document.Apply.
type GormDocumentStore struct {
	storeOptions
	db *gorm.DB
}

// NewGormDocumentStore creates a store on db. The documents table must
// exist; see Database.Migrate.
func NewGormDocumentStore(db *gorm.DB, opts ...StoreOption) *GormDocumentStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &GormDocumentStore{storeOptions: o, db: db}
}

// Get reads one document
func (s *GormDocumentStore) Get(ctx context.Context, path document.DocumentPath) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationGet, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	var m DocumentModel
	err := s.db.WithContext(ctx).
		Where("collection_path = ? AND id = ?", path.Collection.String(), path.ID).
		First(&m).Error
	if err != nil {
		return nil, mapGormError(err, path.String())
	}
	snap, err := m.ToSnapshot()
	if err != nil {
		return nil, document.WrapStoreError(document.CodeInternal, err, path.String())
	}
	return &snap, nil
}

// Query evaluates q over the collection
func (s *GormDocumentStore) Query(ctx context.Context, path document.CollectionPath, q document.Query) ([]document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationList, path); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var rows []DocumentModel
	err := s.db.WithContext(ctx).
		Where("collection_path = ?", path.String()).
		Find(&rows).Error
	if err != nil {
		return nil, mapGormError(err, path.String())
	}

	snaps := make([]document.Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := rows[i].ToSnapshot()
		if err != nil {
			s.logger.Warn("skipping undecodable document",
				zap.String("path", rows[i].CollectionPath+"/"+rows[i].ID),
				zap.Error(err),
			)
			continue
		}
		snaps = append(snaps, snap)
	}
	return document.Apply(snaps, q), nil
}

// Create writes a new document
func (s *GormDocumentStore) Create(ctx context.Context, path document.CollectionPath, id string, data document.Record) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationCreate, path); err != nil {
		return nil, err
	}
	if id == "" {
		id = s.newID()
	}
	docPath := path.Doc(id)
	if err := docPath.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	body, err := encodeRecord(document.ResolveServerTimestamps(data.Clone(), now))
	if err != nil {
		return nil, document.WrapStoreError(document.CodeInvalidArgument, err, docPath.String())
	}
	m := DocumentModel{
		CollectionPath: path.String(),
		ID:             id,
		OwnerID:        path.OwnerID,
		Data:           body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DocumentModel{}).
			Where("collection_path = ? AND id = ?", m.CollectionPath, id).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return document.NewStoreError(document.CodeAlreadyExists, docPath.String())
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, mapGormError(err, docPath.String())
	}

	s.changed(ctx, path)
	return s.snapshotOf(&m, docPath)
}

// Set creates or replaces a document
func (s *GormDocumentStore) Set(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationUpdate, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	body, err := encodeRecord(document.ResolveServerTimestamps(data.Clone(), now))
	if err != nil {
		return nil, document.WrapStoreError(document.CodeInvalidArgument, err, path.String())
	}

	var m DocumentModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("collection_path = ? AND id = ?", path.Collection.String(), path.ID).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = DocumentModel{
				CollectionPath: path.Collection.String(),
				ID:             path.ID,
				OwnerID:        path.Collection.OwnerID,
				CreatedAt:      now,
			}
		case err != nil:
			return err
		}
		m.Data = body
		m.UpdatedAt = now
		return tx.Save(&m).Error
	})
	if err != nil {
		return nil, mapGormError(err, path.String())
	}

	s.changed(ctx, path.Collection)
	return s.snapshotOf(&m, path)
}

// Update merges data into an existing document
func (s *GormDocumentStore) Update(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationUpdate, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	var m DocumentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_path = ? AND id = ?", path.Collection.String(), path.ID).
			First(&m).Error; err != nil {
			return err
		}
		current, err := decodeRecord(m.Data)
		if err != nil {
			return document.WrapStoreError(document.CodeInternal, err, path.String())
		}
		body, err := encodeRecord(document.ResolveServerTimestamps(current.Merge(data), now))
		if err != nil {
			return document.WrapStoreError(document.CodeInvalidArgument, err, path.String())
		}
		m.Data = body
		m.UpdatedAt = now
		return tx.Model(&DocumentModel{}).
			Where("collection_path = ? AND id = ?", m.CollectionPath, m.ID).
			Updates(map[string]any{"data": m.Data, "updated_at": m.UpdatedAt}).Error
	})
	if err != nil {
		return nil, mapGormError(err, path.String())
	}

	s.changed(ctx, path.Collection)
	return s.snapshotOf(&m, path)
}

// Delete removes a document
func (s *GormDocumentStore) Delete(ctx context.Context, path document.DocumentPath) error {
	if err := s.authorize(ctx, document.OperationDelete, path.Collection); err != nil {
		return err
	}
	if err := path.Validate(); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("collection_path = ? AND id = ?", path.Collection.String(), path.ID).
		Delete(&DocumentModel{})
	if result.Error != nil {
		return mapGormError(result.Error, path.String())
	}
	if result.RowsAffected == 0 {
		return document.NewStoreError(document.CodeNotFound, path.String())
	}

	s.changed(ctx, path.Collection)
	return nil
}

// Listen pushes query results on every change to the collection
func (s *GormDocumentStore) Listen(ctx context.Context, path document.CollectionPath, q document.Query,
	onSnapshot func([]document.Snapshot), onError func(error)) func() {
	return s.listen(ctx, path, func(lctx context.Context) ([]document.Snapshot, error) {
		return s.Query(lctx, path, q)
	}, onSnapshot, onError)
}

func (s *GormDocumentStore) snapshotOf(m *DocumentModel, path document.DocumentPath) (*document.Snapshot, error) {
	snap, err := m.ToSnapshot()
	if err != nil {
		return nil, document.WrapStoreError(document.CodeInternal, err, path.String())
	}
	return &snap, nil
}

// mapGormError translates database errors into store codes
func mapGormError(err error, path string) error {
	var se *document.StoreError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return document.NewStoreError(document.CodeNotFound, path)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return document.WrapStoreError(document.CodeAlreadyExists, err, path)
	}
	if code := document.CodeOf(err); code != document.CodeInternal {
		return document.WrapStoreError(code, err, path)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return document.WrapStoreError(document.CodeUnavailable, err, path)
	}

	if state, ok := sqlState(err); ok {
		if code, ok := codeForSQLState(state); ok {
			return document.WrapStoreError(code, err, path)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "connection refused"):
		return document.WrapStoreError(document.CodeUnavailable, err, path)
	case strings.Contains(msg, "unique constraint"):
		return document.WrapStoreError(document.CodeAlreadyExists, err, path)
	}
	return document.WrapStoreError(document.CodeInternal, err, path)
}

// sqlState extracts the SQLSTATE from either postgres driver. gorm.io/driver/postgres
// reports *pgconn.PgError; lib/pq connections report *pq.Error.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

func codeForSQLState(state string) (document.Code, bool) {
	switch {
	case state == "23505":
		return document.CodeAlreadyExists, true
	case state == "40001", state == "40P01":
		return document.CodeAborted, true
	case state == "53300":
		return document.CodeResourceExhausted, true
	case state == "57014":
		return document.CodeDeadlineExceeded, true
	case state == "42501":
		return document.CodePermissionDenied, true
	case strings.HasPrefix(state, "08"), strings.HasPrefix(state, "57"):
		return document.CodeUnavailable, true
	}
	return "", false
}

var _ document.Store = (*GormDocumentStore)(nil)
