// Package export 把选区内已缓存的瓦片导出为 MBTiles 文件.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"offlinetiler/repository"
	"offlinetiler/selection"
	"offlinetiler/tilesystem"
)

// MBTileVersion 写入 metadata 的 MBTiles 版本
const MBTileVersion = "1.2"

const defaultBatchSize = 500

// Stats 导出统计
type Stats struct {
	Tiles   int
	Missing int
	Bytes   int64
}

// Option 导出选项
type Option func(*Exporter)

// WithLogger 设置日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Exporter) {
		e.log = log
	}
}

// WithBatchSize 每个事务写入的瓦片数
func WithBatchSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// Exporter MBTiles 导出器
type Exporter struct {
	repo      *repository.Repository
	log       logrus.FieldLogger
	batchSize int
}

// New 创建导出器
func New(repo *repository.Repository, opts ...Option) *Exporter {
	e := &Exporter{repo: repo, log: logrus.StandardLogger(), batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type tile struct {
	zoom int
	t    tilesystem.Tile
	data []byte
}

// flipY XYZ 行号转 TMS 行号
func (t tile) flipY() int {
	return (1 << t.zoom) - 1 - t.t.Y
}

// Export 把选区某个样式的缓存瓦片写入 path, 未缓存的瓦片跳过并计数
func (e *Exporter) Export(ctx context.Context, sel *selection.Selection, style repository.Style, path string) (Stats, error) {
	var stats Stats
	if err := sel.Validate(); err != nil {
		return stats, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return stats, err
	}
	defer db.Close()

	if err := setupTables(db, metaItems(sel, style)); err != nil {
		return stats, fmt.Errorf("setup mbtiles %s: %w", path, err)
	}

	batch := make([]tile, 0, e.batchSize)
	for key := range sel.Addresses() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, err := e.repo.Read(key, style)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				stats.Missing++
				continue
			}
			return stats, err
		}
		t, zoom, err := key.Tile()
		if err != nil {
			return stats, err
		}
		batch = append(batch, tile{zoom: zoom, t: t, data: data})
		stats.Tiles++
		stats.Bytes += int64(len(data))
		if len(batch) == e.batchSize {
			if err := saveToMBTile(db, batch); err != nil {
				return stats, err
			}
			batch = batch[:0]
		}
	}
	if err := saveToMBTile(db, batch); err != nil {
		return stats, err
	}
	e.log.Infof("export %s %s to %s, %d tiles, %d missing", sel.Name, style, path, stats.Tiles, stats.Missing)
	return stats, nil
}

func optimizeConnection(db *sql.DB) error {
	for _, pragma := range []string{"PRAGMA synchronous=1", "PRAGMA locking_mode=EXCLUSIVE", "PRAGMA journal_mode=OFF"} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

func setupTables(db *sql.DB, meta map[string]string) error {
	// 独占锁模式下只能用一个连接
	db.SetMaxOpenConns(1)
	if err := optimizeConnection(db); err != nil {
		return err
	}
	stmts := []string{
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index if not exists name on metadata (name);",
		"create unique index if not exists tile_index on tiles (zoom_level, tile_column, tile_row);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	for name, value := range meta {
		if _, err := db.Exec("insert or replace into metadata (name, value) values (?, ?)", name, value); err != nil {
			return err
		}
	}
	return nil
}

func saveToMBTile(db *sql.DB, tiles []tile) error {
	if len(tiles) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt := "insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);"
	for _, t := range tiles {
		if _, err := tx.Exec(stmt, t.zoom, t.t.X, t.flipY(), t.data); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// mbtilesFormat metadata 中的 format 取值
func mbtilesFormat(style repository.Style) string {
	if style == repository.Aerial {
		return "jpg"
	}
	return "png"
}

func metaItems(sel *selection.Selection, style repository.Style) map[string]string {
	b := sel.Bound()
	west, east := b.Min.Lon(), b.Max.Lon()
	if west > east {
		// 跨越 180 度经线, MBTiles 的 bounds 无法表示, 按整圈处理
		west, east = -180, 180
	}
	south, north := b.Min.Lat(), b.Max.Lat()
	minZoom := sel.System().MinZoom
	return map[string]string{
		"name":        sel.Name,
		"description": fmt.Sprintf("%s %s", sel.Name, style),
		"type":        "baselayer",
		"version":     MBTileVersion,
		"format":      mbtilesFormat(style),
		"bounds":      fmt.Sprintf("%f,%f,%f,%f", west, south, east, north),
		"center":      fmt.Sprintf("%f,%f,%d", (west+east)/2, (south+north)/2, sel.Level),
		"minzoom":     strconv.Itoa(minZoom),
		"maxzoom":     strconv.Itoa(sel.MaxLevel),
	}
}
