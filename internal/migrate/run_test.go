package migrate

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions_SortedAndEmbedded(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.True(t, sort.StringsAreSorted(versions))
	assert.Equal(t, "0001_fleet_core", versions[0])
}

func TestMigrationFiles_AreReadable(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	for _, f := range files {
		body, readErr := migrationsFS.ReadFile("migrations/" + f)
		require.NoError(t, readErr)
		assert.NotEmpty(t, body, f)
	}
}
