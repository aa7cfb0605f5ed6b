package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	names, err := List()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"000001_create_documents",
		"000002_documents_updated_at_index",
	}, names)
}

func TestSource_EveryUpHasDown(t *testing.T) {
	names, err := List()
	require.NoError(t, err)

	for _, name := range names {
		_, err := fs.Stat(Source(), name+".down.sql")
		assert.NoError(t, err, "missing down migration for %s", name)
	}
}

func TestSource_DocumentsTableMatchesModel(t *testing.T) {
	raw, err := fs.ReadFile(Source(), "000001_create_documents.up.sql")
	require.NoError(t, err)

	ddl := string(raw)
	for _, column := range []string{"collection_path", "id", "owner_id", "data", "created_at", "updated_at"} {
		assert.True(t, strings.Contains(ddl, column), "column %s", column)
	}
	assert.Contains(t, ddl, "PRIMARY KEY (collection_path, id)")
}
