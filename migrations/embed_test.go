package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestActivePenaltyIndexExists(t *testing.T) {
	raw, err := FS.ReadFile("000001_create_token_penalties.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ON token_penalties (token_id) WHERE active")
}
