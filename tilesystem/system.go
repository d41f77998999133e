// Package tilesystem 墨卡托瓦片坐标系: 经纬度、像素、瓦片与四叉树编码之间的换算.
package tilesystem

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileSize 默认瓦片大小
const TileSize = 256

// ZoomMin 最小级别
const ZoomMin = 1

// ZoomMax 最大级别
const ZoomMax = 20

// 墨卡托投影的经纬度范围
const (
	MinLat = -85.05112878
	MaxLat = 85.05112878
	MinLon = -180.0
	MaxLon = 180.0
)

const earthRadius = 6378137.0

// ErrRange 级别或瓦片号越界
var ErrRange = errors.New("tilesystem: out of range")

// System 瓦片坐标系参数
type System struct {
	TileSize int
	MinZoom  int
	MaxZoom  int
}

// Default 默认坐标系 256px, 1-20 级
var Default = System{TileSize: TileSize, MinZoom: ZoomMin, MaxZoom: ZoomMax}

// LatLon 经纬度
type LatLon struct {
	Lat float64
	Lon float64
}

// Point 转为 orb.Point (lon, lat)
func (ll LatLon) Point() orb.Point {
	return orb.Point{ll.Lon, ll.Lat}
}

// FromPoint orb.Point 转经纬度
func FromPoint(p orb.Point) LatLon {
	return LatLon{Lat: p.Lat(), Lon: p.Lon()}
}

// Pixel 全局像素坐标
type Pixel struct {
	X int
	Y int
}

// Tile 瓦片行列号
type Tile struct {
	X int
	Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d, %d", t.X, t.Y)
}

// CheckZoom 检查级别是否在范围内
func (s System) CheckZoom(zoom int) error {
	if zoom < s.MinZoom || zoom > s.MaxZoom {
		return fmt.Errorf("%w: zoom %d not in [%d, %d]", ErrRange, zoom, s.MinZoom, s.MaxZoom)
	}
	return nil
}

// CheckTile 检查瓦片号是否在该级别范围内
func (s System) CheckTile(t Tile, zoom int) error {
	if err := s.CheckZoom(zoom); err != nil {
		return err
	}
	n := s.TileCount(zoom)
	if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
		return fmt.Errorf("%w: tile (%v) not in [0, %d) at zoom %d", ErrRange, t, n, zoom)
	}
	return nil
}

// MapSize 该级别地图像素宽度
func (s System) MapSize(zoom int) int {
	return s.TileSize << zoom
}

// TileCount 该级别每行瓦片数
func (s System) TileCount(zoom int) int {
	return 1 << zoom
}

// GeoToPixel 经纬度转像素
func (s System) GeoToPixel(ll LatLon, zoom int) (Pixel, error) {
	if err := s.CheckZoom(zoom); err != nil {
		return Pixel{}, err
	}
	lat := clip(ll.Lat, MinLat, MaxLat)
	lon := clip(ll.Lon, MinLon, MaxLon)

	x := (lon + 180) / 360
	sinLat := math.Sin(lat * math.Pi / 180)
	y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)

	size := float64(s.MapSize(zoom))
	px := clip(math.Floor(x*size+0.5), 0, size-1)
	py := clip(math.Floor(y*size+0.5), 0, size-1)
	return Pixel{X: int(px), Y: int(py)}, nil
}

// PixelToGeo 像素转经纬度
func (s System) PixelToGeo(p Pixel, zoom int) (LatLon, error) {
	if err := s.CheckZoom(zoom); err != nil {
		return LatLon{}, err
	}
	size := float64(s.MapSize(zoom))
	x := clip(float64(p.X), 0, size-1)/size - 0.5
	y := 0.5 - clip(float64(p.Y), 0, size-1)/size

	lat := 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi
	lon := 360 * x
	return LatLon{Lat: lat, Lon: lon}, nil
}

// PixelToTile 像素所在瓦片
func (s System) PixelToTile(p Pixel) Tile {
	return Tile{X: p.X / s.TileSize, Y: p.Y / s.TileSize}
}

// TileToPixel 瓦片左上角像素
func (s System) TileToPixel(t Tile) Pixel {
	return Pixel{X: t.X * s.TileSize, Y: t.Y * s.TileSize}
}

// TileToQuadKey 瓦片转四叉树编码
func (s System) TileToQuadKey(t Tile, zoom int) (QuadKey, error) {
	if err := s.CheckTile(t, zoom); err != nil {
		return "", err
	}
	return FromTile(t, zoom), nil
}

// TileBound 瓦片经纬度范围
func (s System) TileBound(t Tile, zoom int) orb.Bound {
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(zoom)).Bound()
}

// GroundResolution 该纬度处每像素对应的地面米数
func (s System) GroundResolution(lat float64, zoom int) float64 {
	lat = clip(lat, MinLat, MaxLat)
	return math.Cos(lat*math.Pi/180) * 2 * math.Pi * earthRadius / float64(s.MapSize(zoom))
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
