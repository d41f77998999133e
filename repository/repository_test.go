package repository

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinetiler/tilesystem"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(t.TempDir())
	require.NoError(t, err)
	return repo
}

// tempFiles 目录树下残留的临时文件
func tempFiles(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ok, _ := filepath.Match(tempPattern, d.Name()); ok {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestNewMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(file)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPathLayout(t *testing.T) {
	repo := newRepo(t)
	tests := []struct {
		key   tilesystem.QuadKey
		style Style
		want  string
	}{
		{"0231201302", Aerial, filepath.Join("0231", "2013", "02_h.jpeg_")},
		{"0231", Road, "0231_r.png_"},
		{"02312013", Road, filepath.Join("0231", "2013_r.png_")},
		{"1", Aerial, "1_h.jpeg_"},
	}
	for _, tt := range tests {
		want := filepath.Join(repo.Root(), "tiles", tt.want)
		assert.Equal(t, want, repo.Path(tt.key, tt.style))
		// deterministic
		assert.Equal(t, repo.Path(tt.key, tt.style), repo.Path(tt.key, tt.style))
	}
	assert.Equal(t, filepath.Join(repo.Root(), "selection"), repo.SelectionFile())
}

func TestPathDistinct(t *testing.T) {
	repo := newRepo(t)
	seen := map[string]string{}
	var keys []tilesystem.QuadKey
	for _, prefix := range []tilesystem.QuadKey{"", "0", "01", "012", "0123", "01230", "012301", "0123012", "01230123", "012301230"} {
		for _, d := range []tilesystem.QuadKey{"0", "1", "2", "3"} {
			keys = append(keys, prefix+d)
		}
	}
	for _, key := range keys {
		for _, style := range Styles {
			p := repo.Path(key, style)
			id := key.String() + "/" + style.String()
			if other, ok := seen[p]; ok && other != id {
				t.Fatalf("%s and %s share path %s", id, other, p)
			}
			seen[p] = id

			rel, err := filepath.Rel(repo.TileDir(), p)
			require.NoError(t, err)
			gotKey, gotStyle, ok := parseRelativePath(rel)
			require.True(t, ok)
			assert.Equal(t, key, gotKey)
			assert.Equal(t, style, gotStyle)
		}
	}
}

func TestPutAndExists(t *testing.T) {
	repo := newRepo(t)
	key := tilesystem.QuadKey("12021023")
	assert.False(t, repo.Exists(key, Aerial))

	data := []byte("jpeg data")
	n, err := repo.Put(key, Aerial, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.True(t, repo.Exists(key, Aerial))
	assert.False(t, repo.Exists(key, Road))

	got, err := repo.Read(key, Aerial)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// unknown size
	_, err = repo.Put(key, Road, bytes.NewReader(data), -1)
	require.NoError(t, err)
	assert.True(t, repo.Exists(key, Road))
	assert.Empty(t, tempFiles(t, repo.Root()))
}

func TestPrepareIdempotent(t *testing.T) {
	repo := newRepo(t)
	key := tilesystem.QuadKey("0123012301")
	require.NoError(t, repo.Prepare(key, Road))
	require.NoError(t, repo.Prepare(key, Road))
	info, err := os.Stat(filepath.Dir(repo.Path(key, Road)))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, repo.Exists(key, Road))
}

func TestPutFailureLeavesNothing(t *testing.T) {
	repo := newRepo(t)
	key := tilesystem.QuadKey("3210")
	boom := errors.New("connection reset")

	tests := []struct {
		name string
		src  io.Reader
		size int64
		want error
	}{
		{"read error", io.MultiReader(bytes.NewReader([]byte("partial")), iotest.ErrReader(boom)), -1, boom},
		{"short body", bytes.NewReader([]byte("abc")), 10, io.ErrUnexpectedEOF},
		{"zero length", bytes.NewReader(nil), -1, ErrEmpty},
		{"zero size", bytes.NewReader([]byte("abc")), 0, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Put(key, Aerial, tt.src, tt.size)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.False(t, repo.Exists(key, Aerial))
			assert.Empty(t, tempFiles(t, repo.Root()))
		})
	}
}

func TestWalkAndUsage(t *testing.T) {
	repo := newRepo(t)

	u, err := repo.Usage()
	require.NoError(t, err)
	assert.Equal(t, Usage{}, u)
	assert.Zero(t, u.AvgSize())

	put := func(key tilesystem.QuadKey, style Style, size int) {
		_, err := repo.Put(key, style, bytes.NewReader(make([]byte, size)), int64(size))
		require.NoError(t, err)
	}
	put("0", Aerial, 100)
	put("01230123", Road, 300)
	put("012301231", Aerial, 200)
	// stray files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(repo.TileDir(), "README"), []byte("x"), 0o644))

	got := map[string]int64{}
	err = repo.Walk(func(key tilesystem.QuadKey, style Style, size int64) error {
		got[key.String()+"/"+style.String()] = size
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"0/aerial":         100,
		"01230123/road":    300,
		"012301231/aerial": 200,
	}, got)

	u, err = repo.Usage()
	require.NoError(t, err)
	assert.Equal(t, Usage{Count: 3, Bytes: 600}, u)
	assert.Equal(t, int64(200), u.AvgSize())

	require.NoError(t, repo.Remove("0", Aerial))
	require.NoError(t, repo.Remove("0", Aerial))
	assert.False(t, repo.Exists("0", Aerial))
}

func TestParseStyle(t *testing.T) {
	for _, v := range []string{"aerial", "h"} {
		s, err := ParseStyle(v)
		require.NoError(t, err)
		assert.Equal(t, Aerial, s)
	}
	s, err := ParseStyle("road")
	require.NoError(t, err)
	assert.Equal(t, Road, s)
	_, err = ParseStyle("hybrid")
	assert.Error(t, err)
}
