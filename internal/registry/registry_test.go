package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/record"
)

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, path
}

func TestIDByPathAssignsSequentialIDs(t *testing.T) {
	r, _ := openTestRegistry(t)

	for i, p := range []string{"/usr/bin/vim", "/usr/bin/firefox", "/opt/code/code"} {
		id, err := r.IDByPath(p)
		require.NoError(t, err)
		assert.Equal(t, record.AppID(i), id)
	}
	assert.Equal(t, 3, r.Len())
}

func TestIDByPathIsIdempotent(t *testing.T) {
	r, path := openTestRegistry(t)

	first, err := r.IDByPath("/usr/bin/vim")
	require.NoError(t, err)
	second, err := r.IDByPath("/usr/bin/vim")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "/usr/bin/vim"))
}

func TestIDByPathRejectsInvalidPaths(t *testing.T) {
	r, _ := openTestRegistry(t)

	for _, p := range []string{"", "a\nb", "a\r"} {
		_, err := r.IDByPath(p)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", p)
	}
}

func TestPathByID(t *testing.T) {
	r, _ := openTestRegistry(t)

	id, err := r.IDByPath("/usr/bin/vim")
	require.NoError(t, err)

	p, err := r.PathByID(id)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/vim", p)

	_, err = r.PathByID(id + 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReopenReplaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	r, err := Open(path)
	require.NoError(t, err)
	_, err = r.IDByPath("/a")
	require.NoError(t, err)
	_, err = r.IDByPath("/b")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	id, err := r2.IDByPath("/b")
	require.NoError(t, err)
	assert.Equal(t, record.AppID(1), id)

	id, err = r2.IDByPath("/c")
	require.NoError(t, err)
	assert.Equal(t, record.AppID(2), id)
}

func TestReplayIgnoresEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("/a\n\n/b\r\n\n"), 0600))

	r, err := OpenReadOnly(path)
	require.NoError(t, err)

	assert.Equal(t, []App{{ID: 0, Path: "/a"}, {ID: 1, Path: "/b"}}, r.Apps())
}

func TestOpenTerminatesTornLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("/usr/bin/vim\n/usr/bin/firefox"), 0600))

	r, err := Open(path)
	require.NoError(t, err)
	id, err := r.IDByPath("/usr/bin/code")
	require.NoError(t, err)
	assert.Equal(t, record.AppID(2), id)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/vim\n/usr/bin/firefox\n/usr/bin/code\n", string(data))

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []App{
		{ID: 0, Path: "/usr/bin/vim"},
		{ID: 1, Path: "/usr/bin/firefox"},
		{ID: 2, Path: "/usr/bin/code"},
	}, r.Apps())
}

func TestReadOnlyRejectsNewPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("/a\n"), 0600))

	r, err := OpenReadOnly(path)
	require.NoError(t, err)

	id, err := r.IDByPath("/a")
	require.NoError(t, err)
	assert.Equal(t, record.AppID(0), id)

	_, err = r.IDByPath("/new")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	r, err := OpenReadOnly(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentIDByPath(t *testing.T) {
	r, path := openTestRegistry(t)

	var wg sync.WaitGroup
	ids := make([]record.AppID, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.IDByPath("/usr/bin/shared")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/shared\n", string(data))
}
