// Package tilelayer 视口相关的像素/瓦片/屏幕坐标换算, 以及跨级别的瓦片范围遍历.
package tilelayer

import (
	"image"

	"offlinetiler/tilesystem"
)

// Layer 记录最近一次稳定视口的级别和左上/右下像素.
// 只在视口停止平移缩放后更新, 不支持并发调用.
type Layer struct {
	sys    tilesystem.System
	zoom   int
	nw     tilesystem.Pixel
	se     tilesystem.Pixel
	stable bool
}

// New 创建图层
func New(sys tilesystem.System) *Layer {
	return &Layer{sys: sys, zoom: sys.MinZoom}
}

// System 坐标系
func (l *Layer) System() tilesystem.System {
	return l.sys
}

// Zoom 当前级别
func (l *Layer) Zoom() int {
	return l.zoom
}

// PixelNW 视口左上角像素
func (l *Layer) PixelNW() tilesystem.Pixel {
	return l.nw
}

// PixelSE 视口右下角像素
func (l *Layer) PixelSE() tilesystem.Pixel {
	return l.se
}

// IsStable 视口是否稳定
func (l *Layer) IsStable() bool {
	return l.stable
}

// SetStable 视口变化结束, 记录级别和西北/东南角
func (l *Layer) SetStable(zoom int, northWest, southEast tilesystem.LatLon) error {
	nw, err := l.sys.GeoToPixel(northWest, zoom)
	if err != nil {
		return err
	}
	se, err := l.sys.GeoToPixel(southEast, zoom)
	if err != nil {
		return err
	}
	l.zoom, l.nw, l.se = zoom, nw, se
	l.stable = true
	return nil
}

// SetUnstable 视口开始变化
func (l *Layer) SetUnstable() {
	l.stable = false
}

// IsScreenPositionInferred 左上角贴在坐标原点时视口范围无法确定
// (级别过低地图填不满视口, 或移到了极点附近).
func (l *Layer) IsScreenPositionInferred() bool {
	if l.nw.Y == 0 {
		return false
	}
	if l.nw.X == 0 {
		return false
	}
	return true
}

func (l *Layer) screenAvailable() bool {
	return l.stable && l.IsScreenPositionInferred()
}

// PixelAt 屏幕坐标转全局像素
func (l *Layer) PixelAt(pos image.Point) tilesystem.Pixel {
	return tilesystem.Pixel{X: l.nw.X + pos.X, Y: l.nw.Y + pos.Y}
}

// PixelOfLocation 经纬度在当前级别的像素
func (l *Layer) PixelOfLocation(ll tilesystem.LatLon) (tilesystem.Pixel, error) {
	return l.sys.GeoToPixel(ll, l.zoom)
}

// EnclosingTile 像素所在瓦片
func (l *Layer) EnclosingTile(p tilesystem.Pixel) tilesystem.Tile {
	return l.sys.PixelToTile(p)
}

// QuadKey 当前级别下瓦片的编码
func (l *Layer) QuadKey(t tilesystem.Tile) (tilesystem.QuadKey, error) {
	return l.sys.TileToQuadKey(t, l.zoom)
}

// PixelOf tileLevel 级瓦片的左上角 (seCorner 时为右下角) 在当前级别的像素
func (l *Layer) PixelOf(t tilesystem.Tile, tileLevel int, seCorner bool) tilesystem.Pixel {
	p := l.sys.TileToPixel(t)
	if seCorner {
		p.X += l.sys.TileSize
		p.Y += l.sys.TileSize
	}
	diff := l.zoom - tileLevel
	if diff >= 0 {
		return tilesystem.Pixel{X: p.X << diff, Y: p.Y << diff}
	}
	return tilesystem.Pixel{X: p.X >> -diff, Y: p.Y >> -diff}
}

// Location tileLevel 级瓦片角点的经纬度
func (l *Layer) Location(t tilesystem.Tile, tileLevel int, seCorner bool) (tilesystem.LatLon, error) {
	return l.sys.PixelToGeo(l.PixelOf(t, tileLevel, seCorner), l.zoom)
}

// ScreenPosition 像素的屏幕坐标, 视口不确定时不可用
func (l *Layer) ScreenPosition(p tilesystem.Pixel) (image.Point, bool) {
	if !l.screenAvailable() {
		return image.Point{}, false
	}
	return image.Pt(p.X-l.nw.X, p.Y-l.nw.Y), true
}

// TileScreenPosition 瓦片左上角的屏幕坐标
func (l *Layer) TileScreenPosition(t tilesystem.Tile) (image.Point, bool) {
	return l.ScreenPosition(l.sys.TileToPixel(t))
}

// ClippedScreenPosition 像素的屏幕坐标, 裁剪到视口内
func (l *Layer) ClippedScreenPosition(p tilesystem.Pixel) (image.Point, bool) {
	if !l.screenAvailable() {
		return image.Point{}, false
	}
	var x, y int
	switch {
	case l.nw.X > p.X:
		x = 0
	case p.X > l.se.X:
		x = l.se.X - l.nw.X
	default:
		x = p.X - l.nw.X
	}
	switch {
	case l.nw.Y > p.Y:
		y = 0
	case p.Y > l.se.Y:
		y = l.se.Y - l.nw.Y
	default:
		y = p.Y - l.nw.Y
	}
	return image.Pt(x, y), true
}

// FitZoom 以 center 为中心, 经纬度跨度 ±lonDist/±latDist 能完整放进屏幕的最大级别
func (l *Layer) FitZoom(center tilesystem.LatLon, lonDist, latDist float64, screen image.Point) int {
	for zoom := l.sys.MaxZoom; zoom >= l.sys.MinZoom; zoom-- {
		c, _ := l.sys.GeoToPixel(center, zoom)
		fits := true
		for i := 0; i < 4 && fits; i++ {
			corner := center
			if i < 2 {
				corner.Lon -= lonDist
			} else {
				corner.Lon += lonDist
			}
			if i%2 == 1 {
				corner.Lat -= latDist
			} else {
				corner.Lat += latDist
			}
			p, _ := l.sys.GeoToPixel(corner, zoom)
			if abs(p.X-c.X) > screen.X/2 || abs(p.Y-c.Y) > screen.Y/2 {
				fits = false
			}
		}
		if fits {
			return zoom
		}
	}
	return l.sys.MinZoom
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
