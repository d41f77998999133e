package tilesystem

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// ErrQuadKey 非法的四叉树编码
var ErrQuadKey = errors.New("tilesystem: invalid quadkey")

// QuadKey 四叉树编码, 长度等于级别
type QuadKey string

func (key QuadKey) String() string {
	return string(key)
}

// Zoom 编码对应的级别
func (key QuadKey) Zoom() int {
	return len(key)
}

// Valid 检查编码只含 0-3
func (key QuadKey) Valid() error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrQuadKey)
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '3' {
			return fmt.Errorf("%w: digit %q at index %d", ErrQuadKey, key[i], i)
		}
	}
	return nil
}

// FromTile 瓦片转编码, 不做范围检查
func FromTile(t Tile, zoom int) QuadKey {
	key := make([]byte, zoom)
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := 1 << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		key[zoom-i] = digit
	}
	return QuadKey(key)
}

// Tile 编码还原瓦片和级别
func (key QuadKey) Tile() (Tile, int, error) {
	if err := key.Valid(); err != nil {
		return Tile{}, 0, err
	}
	var t Tile
	zoom := key.Zoom()
	for i := zoom; i > 0; i-- {
		mask := 1 << (i - 1)
		digit := key[zoom-i] - '0'
		if digit&1 != 0 {
			t.X |= mask
		}
		if digit&2 != 0 {
			t.Y |= mask
		}
	}
	return t, zoom, nil
}

// Parent 上一级编码
func (key QuadKey) Parent() (QuadKey, error) {
	if err := key.Valid(); err != nil {
		return "", err
	}
	if key.Zoom() == 1 {
		return "", fmt.Errorf("%w: %s has no parent", ErrQuadKey, key)
	}
	return key[:len(key)-1], nil
}

// Children 下一级的四个编码, 顺序 0-3
func (key QuadKey) Children() []QuadKey {
	if key.Valid() != nil {
		return nil
	}
	return []QuadKey{key + "0", key + "1", key + "2", key + "3"}
}

// Bound 编码对应的经纬度范围
func (key QuadKey) Bound() orb.Bound {
	t, zoom, err := key.Tile()
	if err != nil {
		return orb.Bound{}
	}
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(zoom)).Bound()
}

// Feature 编码范围的 geojson 要素
func (key QuadKey) Feature() *geojson.Feature {
	feature := geojson.NewFeature(key.Bound().ToPolygon())
	feature.ID = key.String()
	return feature
}
