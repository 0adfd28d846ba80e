package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_ContainsContentSchema(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	b, err := fs.ReadFile(FS, "00001_content_items.sql")
	require.NoError(t, err)
	sql := string(b)
	require.True(t, strings.Contains(sql, "-- +goose Up"))
	require.True(t, strings.Contains(sql, "-- +goose Down"))
	require.Contains(t, sql, "PRIMARY KEY (id, scope)")
}
