package selection

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinetiler/repository"
	"offlinetiler/tilelayer"
	"offlinetiler/tilesystem"
)

func sample() *Selection {
	return &Selection{
		Name:     "campus",
		Level:    3,
		NW:       tilesystem.Tile{X: 1, Y: 2},
		SE:       tilesystem.Tile{X: 2, Y: 3},
		Aerial:   true,
		Road:     true,
		MaxLevel: 4,
	}
}

func TestNewFromLayer(t *testing.T) {
	layer := tilelayer.New(tilesystem.Default)
	_, err := New("x", layer, tilesystem.Pixel{}, tilesystem.Pixel{}, true, false)
	assert.True(t, errors.Is(err, ErrInvalid))

	require.NoError(t, layer.SetStable(12,
		tilesystem.LatLon{Lat: 40.2, Lon: -88.4},
		tilesystem.LatLon{Lat: 39.9, Lon: -88.0}))
	nw := layer.PixelAt(image.Pt(100, 100))
	se := layer.PixelAt(image.Pt(400, 300))
	s, err := New("champaign", layer, nw, se, true, false)
	require.NoError(t, err)
	assert.Equal(t, 12, s.Level)
	assert.Equal(t, 12, s.MaxLevel)
	assert.Equal(t, layer.EnclosingTile(nw), s.NW)
	assert.Equal(t, layer.EnclosingTile(se), s.SE)
	assert.Equal(t, []repository.Style{repository.Aerial}, s.Styles())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Selection)
	}{
		{"empty name", func(s *Selection) { s.Name = "" }},
		{"level too low", func(s *Selection) { s.Level = 0 }},
		{"max level too high", func(s *Selection) { s.MaxLevel = 21 }},
		{"max below level", func(s *Selection) { s.MaxLevel = 2 }},
		{"nw out of range", func(s *Selection) { s.NW.X = 8 }},
		{"se out of range", func(s *Selection) { s.SE.Y = -1 }},
		{"rows inverted", func(s *Selection) { s.NW.Y, s.SE.Y = 3, 2 }},
	}
	require.NoError(t, sample().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sample()
			tt.mutate(s)
			assert.True(t, errors.Is(s.Validate(), ErrInvalid))
		})
	}
}

func TestNumTotalTiles(t *testing.T) {
	s := sample()
	// level 1: 1 tile, 2: 2x1, 3: 2x2, 4: 4x4
	assert.Equal(t, 1, s.NumTiles(1))
	assert.Equal(t, 2, s.NumTiles(2))
	assert.Equal(t, 4, s.NumTiles(3))
	assert.Equal(t, 16, s.NumTiles(4))
	assert.Equal(t, int64((1+2+4+16)*2), s.NumTotalTiles())
	assert.Equal(t, int64(46*DefaultAvgTileSize), s.TotalFileSize(DefaultAvgTileSize))
	assert.Equal(t, int64(16*100), s.FileSize(4, 100))

	s.Road = false
	assert.Equal(t, int64(23), s.NumTotalTiles())
	s.Aerial = false
	assert.Zero(t, s.NumTotalTiles())
}

func TestAddresses(t *testing.T) {
	s := sample()
	var keys []tilesystem.QuadKey
	for key := range s.Addresses() {
		keys = append(keys, key)
	}
	// one address per tile, independent of styles
	assert.Len(t, keys, 23)
	assert.Equal(t, int64(len(keys)*2), s.NumTotalTiles())

	// increasing zoom
	assert.True(t, slices.IsSortedFunc(keys, func(a, b tilesystem.QuadKey) int {
		return a.Zoom() - b.Zoom()
	}))
	assert.Equal(t, tilesystem.QuadKey("0"), keys[0])
	assert.Equal(t, tilesystem.QuadKey("02"), keys[1])
	assert.Equal(t, tilesystem.QuadKey("03"), keys[2])

	// every level-3 tile of the range is present
	for x := 1; x <= 2; x++ {
		for y := 2; y <= 3; y++ {
			assert.Contains(t, keys, tilesystem.FromTile(tilesystem.Tile{X: x, Y: y}, 3))
		}
	}

	// restartable
	var again []tilesystem.QuadKey
	for key := range s.Addresses() {
		again = append(again, key)
	}
	assert.Equal(t, keys, again)
}

func TestAddressesWraparound(t *testing.T) {
	s := &Selection{Name: "dateline", Level: 3, NW: tilesystem.Tile{X: 7, Y: 3}, SE: tilesystem.Tile{X: 0, Y: 3}, Road: true, MaxLevel: 3}
	require.NoError(t, s.Validate())
	var level3 []tilesystem.QuadKey
	for key := range s.Addresses() {
		if key.Zoom() == 3 {
			level3 = append(level3, key)
		}
	}
	assert.Equal(t, []tilesystem.QuadKey{
		tilesystem.FromTile(tilesystem.Tile{X: 7, Y: 3}, 3),
		tilesystem.FromTile(tilesystem.Tile{X: 0, Y: 3}, 3),
	}, level3)
	assert.Equal(t, 2, s.NumTiles(3))

	b := s.Bound()
	assert.Greater(t, b.Min.Lon(), b.Max.Lon())
}

func TestLatLonAndBound(t *testing.T) {
	s := sample()
	ll := s.LatLon()
	assert.InDelta(t, -135, ll.Lon, 1e-9)
	b := s.Bound()
	assert.InDelta(t, -135, b.Left(), 1e-9)
	assert.InDelta(t, -45, b.Right(), 1e-9)
	assert.InDelta(t, ll.Lat, b.Top(), 1e-6)
	assert.Less(t, b.Bottom(), b.Top())
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection")

	list, err := ReadFile(path, tilesystem.Default)
	require.NoError(t, err)
	assert.Empty(t, list)

	second := &Selection{Name: "pacific", Level: 5, NW: tilesystem.Tile{X: 30, Y: 10}, SE: tilesystem.Tile{X: 2, Y: 12}, Aerial: true, MaxLevel: 7, Complete: true}
	list, err = list.Add(sample())
	require.NoError(t, err)
	list, err = list.Add(second)
	require.NoError(t, err)
	_, err = list.Add(sample())
	assert.True(t, errors.Is(err, ErrInvalid))

	require.NoError(t, WriteFile(path, list))
	got, err := ReadFile(path, tilesystem.Default)
	require.NoError(t, err)
	if diff := cmp.Diff(list, got, cmpopts.IgnoreUnexported(Selection{})); diff != "" {
		t.Errorf("selection file round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, list[1].NumTotalTiles(), got[1].NumTotalTiles())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection")
	err := Update(path, tilesystem.Default, func(l List) (List, error) {
		return l.Add(sample())
	})
	require.NoError(t, err)

	err = Update(path, tilesystem.Default, func(l List) (List, error) {
		l.Find("campus").Complete = true
		return l, errors.New("abort")
	})
	require.Error(t, err)

	list, err := ReadFile(path, tilesystem.Default)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Complete)
	assert.Equal(t, tilesystem.Default, list[0].System())
}

func TestReadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"bad","level":3,"max_level":2}}
	]}`), 0o644))
	_, err := ReadFile(path, tilesystem.Default)
	assert.True(t, errors.Is(err, ErrInvalid))

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = ReadFile(path, tilesystem.Default)
	assert.Error(t, err)
}

func TestListFindRemove(t *testing.T) {
	list := List{sample()}
	assert.NotNil(t, list.Find("campus"))
	assert.Nil(t, list.Find("missing"))

	out, ok := list.Remove("missing")
	assert.False(t, ok)
	assert.Len(t, out, 1)

	out, ok = list.Remove("campus")
	assert.True(t, ok)
	assert.Empty(t, out)
	assert.Len(t, list, 1)
}
