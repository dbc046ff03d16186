package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigratesIdempotently(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_version`))
	assert.Equal(t, 1, version)

	var tables int
	require.NoError(t, db.GetContext(ctx, &tables,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users', 'notifications')`))
	assert.Equal(t, 2, tables)
}
