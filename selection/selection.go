// Package selection 用户选定的离线区域: 参考级别下的瓦片范围、最大级别和样式,
// 以及由此得到的瓦片数、预估大小和全部四叉树编码.
package selection

import (
	"errors"
	"fmt"
	"iter"

	"github.com/paulmach/orb"

	"offlinetiler/repository"
	"offlinetiler/tilelayer"
	"offlinetiler/tilesystem"
)

// DefaultAvgTileSize 预估用的平均瓦片大小 (字节)
const DefaultAvgTileSize = 10000

// ErrInvalid 选区参数非法
var ErrInvalid = errors.New("selection: invalid")

// Selection 离线选区. NW/SE 是 Level 级的闭区间瓦片范围, NW.X > SE.X 表示跨越 180 度经线.
type Selection struct {
	Name     string
	Level    int
	NW       tilesystem.Tile
	SE       tilesystem.Tile
	Aerial   bool
	Road     bool
	MaxLevel int
	Complete bool

	sys tilesystem.System
}

// New 由稳定视口中框选的像素矩形创建选区, 最大级别默认等于当前级别
func New(name string, layer *tilelayer.Layer, topLeft, bottomRight tilesystem.Pixel, aerial, road bool) (*Selection, error) {
	if !layer.IsStable() {
		return nil, fmt.Errorf("%w: viewport is not stable", ErrInvalid)
	}
	s := &Selection{
		Name:     name,
		Level:    layer.Zoom(),
		NW:       layer.EnclosingTile(topLeft),
		SE:       layer.EnclosingTile(bottomRight),
		Aerial:   aerial,
		Road:     road,
		MaxLevel: layer.Zoom(),
		sys:      layer.System(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// System 选区使用的坐标系
func (s *Selection) System() tilesystem.System {
	if s.sys == (tilesystem.System{}) {
		return tilesystem.Default
	}
	return s.sys
}

// Validate 检查级别和瓦片范围
func (s *Selection) Validate() error {
	sys := s.System()
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if err := sys.CheckZoom(s.Level); err != nil {
		return fmt.Errorf("%w: %s level: %w", ErrInvalid, s.Name, err)
	}
	if err := sys.CheckZoom(s.MaxLevel); err != nil {
		return fmt.Errorf("%w: %s max level: %w", ErrInvalid, s.Name, err)
	}
	if s.MaxLevel < s.Level {
		return fmt.Errorf("%w: %s max level %d below level %d", ErrInvalid, s.Name, s.MaxLevel, s.Level)
	}
	if err := sys.CheckTile(s.NW, s.Level); err != nil {
		return fmt.Errorf("%w: %s nw: %w", ErrInvalid, s.Name, err)
	}
	if err := sys.CheckTile(s.SE, s.Level); err != nil {
		return fmt.Errorf("%w: %s se: %w", ErrInvalid, s.Name, err)
	}
	if s.NW.Y > s.SE.Y {
		return fmt.Errorf("%w: %s nw row %d below se row %d", ErrInvalid, s.Name, s.NW.Y, s.SE.Y)
	}
	return nil
}

// Styles 选中的样式, 按下载顺序
func (s *Selection) Styles() []repository.Style {
	styles := make([]repository.Style, 0, 2)
	if s.Aerial {
		styles = append(styles, repository.Aerial)
	}
	if s.Road {
		styles = append(styles, repository.Road)
	}
	return styles
}

// NumTiles level 级的瓦片数 (不含样式)
func (s *Selection) NumTiles(level int) int {
	return tilelayer.CountRange(s.System(), s.NW, s.SE, s.Level, level)
}

// NumTotalTiles 最小级别到 MaxLevel 全部样式的瓦片总数
func (s *Selection) NumTotalTiles() int64 {
	modes := int64(len(s.Styles()))
	var total int64
	for level := s.System().MinZoom; level <= s.MaxLevel; level++ {
		total += int64(s.NumTiles(level)) * modes
	}
	return total
}

// FileSize level 级单个样式的预估大小
func (s *Selection) FileSize(level int, avgTileSize int64) int64 {
	return int64(s.NumTiles(level)) * avgTileSize
}

// TotalFileSize 预估总大小
func (s *Selection) TotalFileSize(avgTileSize int64) int64 {
	return s.NumTotalTiles() * avgTileSize
}

// Addresses 按级别从小到大遍历选区内全部瓦片的编码, 惰性生成, 可重复遍历
func (s *Selection) Addresses() iter.Seq[tilesystem.QuadKey] {
	sys := s.System()
	return func(yield func(tilesystem.QuadKey) bool) {
		for level := sys.MinZoom; level <= s.MaxLevel; level++ {
			for t := range tilelayer.IterateRange(sys, s.NW, s.SE, s.Level, level) {
				if !yield(tilesystem.FromTile(t, level)) {
					return
				}
			}
		}
	}
}

// LatLon 选区左上角经纬度
func (s *Selection) LatLon() tilesystem.LatLon {
	sys := s.System()
	ll, err := sys.PixelToGeo(sys.TileToPixel(s.NW), s.Level)
	if err != nil {
		return tilesystem.LatLon{}
	}
	return ll
}

// Bound 选区的经纬度范围. 跨越 180 度经线时 Min 的经度大于 Max 的经度.
func (s *Selection) Bound() orb.Bound {
	sys := s.System()
	nw := sys.TileBound(s.NW, s.Level)
	se := sys.TileBound(s.SE, s.Level)
	return orb.Bound{
		Min: orb.Point{nw.Left(), se.Bottom()},
		Max: orb.Point{se.Right(), nw.Top()},
	}
}

func (s *Selection) String() string {
	ll := s.LatLon()
	return fmt.Sprintf("%s (%.3f, %.3f) level %d-%d", s.Name, ll.Lat, ll.Lon, s.Level, s.MaxLevel)
}
