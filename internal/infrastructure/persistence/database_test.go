package persistence

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/docsync/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDatabase creates a Database instance with a mocked SQL connection
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB, Driver: config.DriverPostgres}, mock, mockDB
}

func TestNewDatabase(t *testing.T) {
	t.Run("opens an in-memory sqlite database", func(t *testing.T) {
		db, err := NewDatabase(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, config.DriverSQLite, db.Driver)
		assert.NoError(t, db.Ping())
		require.NoError(t, db.Migrate())
		assert.True(t, db.DB.Migrator().HasTable(&DocumentModel{}))

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.MaxOpenConnections)
	})

	t.Run("rejects the memory driver", func(t *testing.T) {
		_, err := NewDatabase(&config.DatabaseConfig{Driver: config.DriverMemory})
		assert.Error(t, err)
	})
}

func TestDatabase_WithOwner(t *testing.T) {
	t.Run("returns scoped GORM DB with owner filter", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "documents" WHERE owner_id = \$1`).
			WithArgs("owner-123").
			WillReturnRows(sqlmock.NewRows([]string{"collection_path", "id", "owner_id", "data"}).
				AddRow("owner/owner-123/invoices", "a", "owner-123", "{}"))

		var rows []DocumentModel
		require.NoError(t, db.WithOwner("owner-123").Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not modify original DB", func(t *testing.T) {
		db, _, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		original := db.DB
		scoped := db.WithOwner("owner-456")
		assert.NotEqual(t, original, scoped)
		assert.Equal(t, original, db.DB)
	})

	t.Run("empty owner ID panics", func(t *testing.T) {
		db, _, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		assert.Panics(t, func() {
			db.WithOwner("")
		})
	})
}

func TestDatabase_Ping(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	// gorm pings once while opening
	mock.ExpectPing()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{})
	require.NoError(t, err)
	db := &Database{DB: gormDB}

	mock.ExpectPing()
	assert.NoError(t, db.Ping())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, db.Ping())
}

func TestDatabase_Transaction(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error {
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := db.Transaction(func(tx *gorm.DB) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t)
	mock.ExpectClose()

	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
