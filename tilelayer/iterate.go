package tilelayer

import (
	"iter"

	"offlinetiler/tilesystem"
)

// Rescale 把 level 级的闭区间瓦片范围 [nw, se] 换算到 target 级, 返回像素范围 [nw, se).
// nw.X > se.X 表示跨越 180 度经线.
func Rescale(sys tilesystem.System, nw, se tilesystem.Tile, level, target int) (tilesystem.Pixel, tilesystem.Pixel) {
	width := sys.TileCount(level)
	targetWidth := sys.TileCount(target)

	x0, y0 := nw.X, nw.Y
	x1, y1 := se.X+1, se.Y+1
	if nw.X > se.X {
		x1 += width
	}

	var tx0, ty0, tx1, ty1 int
	if target >= level {
		factor := 1 << (target - level)
		tx0, ty0 = x0*factor, y0*factor
		tx1, ty1 = x1*factor, y1*factor
	} else {
		factor := 1 << (level - target)
		tx0, ty0 = x0/factor, y0/factor
		tx1, ty1 = x1/factor, y1/factor
		// 截断后反算回 level 级, 覆盖不到原右下角时补一列/一行
		if tx1*factor < x1 {
			tx1++
		}
		if ty1*factor < y1 {
			ty1++
		}
	}
	if tx1 == tx0 {
		tx1++
	}
	if ty1 == ty0 {
		ty1++
	}

	if ty1 > targetWidth {
		ty1 = targetWidth
	}
	if tx1-tx0 >= targetWidth {
		// 覆盖整圈经度时按一整圈处理
		tx0, tx1 = 0, targetWidth
	} else if tx1 > targetWidth {
		tx1 -= targetWidth
	}

	return sys.TileToPixel(tilesystem.Tile{X: tx0, Y: ty0}), sys.TileToPixel(tilesystem.Tile{X: tx1, Y: ty1})
}

// bounds 计算像素范围的迭代起止, x 对齐到瓦片边界且不超过一整圈
func bounds(sys tilesystem.System, nw, se tilesystem.Pixel, zoom int) (x0, x1, y0, y1 int) {
	mapSize := sys.MapSize(zoom)
	ts := sys.TileSize

	x0 = nw.X - nw.X%ts
	x1 = se.X
	if nw.X > x1 {
		x1 += mapSize
	}
	if x1-x0 > mapSize {
		x1 = x0 + mapSize
	}

	y0 = max(nw.Y, 0)
	y0 -= y0 % ts
	y1 = min(se.Y, mapSize)
	return x0, x1, y0, y1
}

// IterateTiles 遍历像素范围 [nw, se) 覆盖的瓦片, nw.X > se.X 时跨越 180 度经线
func IterateTiles(sys tilesystem.System, nw, se tilesystem.Pixel, zoom int) iter.Seq[tilesystem.Tile] {
	return func(yield func(tilesystem.Tile) bool) {
		x0, x1, y0, y1 := bounds(sys, nw, se, zoom)
		mapSize := sys.MapSize(zoom)
		for x := x0; x < x1; x += sys.TileSize {
			for y := y0; y < y1; y += sys.TileSize {
				t := sys.PixelToTile(tilesystem.Pixel{X: x % mapSize, Y: y})
				if !yield(t) {
					return
				}
			}
		}
	}
}

// CountTiles 像素范围覆盖的瓦片数, 与 IterateTiles 的个数一致
func CountTiles(sys tilesystem.System, nw, se tilesystem.Pixel, zoom int) int {
	x0, x1, y0, y1 := bounds(sys, nw, se, zoom)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	ts := sys.TileSize
	countX := (x1 - x0 + ts - 1) / ts
	countY := (y1 - y0 + ts - 1) / ts
	return countX * countY
}

// IterateRange 遍历 level 级瓦片范围在 target 级对应的瓦片
func IterateRange(sys tilesystem.System, nw, se tilesystem.Tile, level, target int) iter.Seq[tilesystem.Tile] {
	pixNW, pixSE := Rescale(sys, nw, se, level, target)
	return IterateTiles(sys, pixNW, pixSE, target)
}

// CountRange level 级瓦片范围在 target 级对应的瓦片数
func CountRange(sys tilesystem.System, nw, se tilesystem.Tile, level, target int) int {
	pixNW, pixSE := Rescale(sys, nw, se, level, target)
	return CountTiles(sys, pixNW, pixSE, target)
}
