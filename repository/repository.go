// Package repository 本地瓦片缓存, 以 (四叉树编码, 样式) 为键保存在磁盘上.
//
// 目录布局:
//
//	<root>/selection                  选区文件
//	<root>/tiles/0231/2013/02_h.jpeg_ 编码 0231201302 的卫星图
//
// 编码每 4 位切成一级目录, 每级目录最多 4^4 个子项.
package repository

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"offlinetiler/tilesystem"
)

const (
	tilesDir      = "tiles"
	selectionFile = "selection"
	// combineFactor 每级目录的编码长度
	combineFactor = 4
	tempPattern   = ".fetch-*"
)

var (
	// ErrNotFound 缓存根目录不存在
	ErrNotFound = errors.New("repository: root directory not found")
	// ErrEmpty 瓦片内容为空
	ErrEmpty = errors.New("repository: empty tile")
)

// Option 仓库选项
type Option func(*Repository)

// WithLogger 设置日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Repository) {
		r.log = log
	}
}

// Repository 磁盘瓦片缓存. 同一个键只会被写入一次, 写入过程对读者不可见.
type Repository struct {
	root string
	log  logrus.FieldLogger
}

// New 打开已存在的缓存根目录, 不会创建根目录
func New(root string, opts ...Option) (*Repository, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, root)
	}
	r := &Repository{root: root, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root 根目录
func (r *Repository) Root() string {
	return r.root
}

// SelectionFile 选区文件路径
func (r *Repository) SelectionFile() string {
	return filepath.Join(r.root, selectionFile)
}

// TileDir 瓦片目录
func (r *Repository) TileDir() string {
	return filepath.Join(r.root, tilesDir)
}

// Path 瓦片的绝对路径. 相同的键总是得到相同的路径, 不同的键得到不同的路径.
func (r *Repository) Path(key tilesystem.QuadKey, style Style) string {
	return filepath.Join(r.TileDir(), relativePath(key, style))
}

func relativePath(key tilesystem.QuadKey, style Style) string {
	s := key.String()
	if s == "" {
		return style.suffix()
	}
	parts := make([]string, 0, len(s)/combineFactor+1)
	for i := 0; i < len(s); i += combineFactor {
		parts = append(parts, s[i:min(i+combineFactor, len(s))])
	}
	parts[len(parts)-1] += style.suffix()
	return filepath.Join(parts...)
}

// parseRelativePath relativePath 的逆运算
func parseRelativePath(rel string) (tilesystem.QuadKey, Style, bool) {
	for _, style := range Styles {
		if !strings.HasSuffix(rel, style.suffix()) {
			continue
		}
		s := strings.TrimSuffix(rel, style.suffix())
		s = strings.ReplaceAll(filepath.ToSlash(s), "/", "")
		key := tilesystem.QuadKey(s)
		if key.Valid() != nil {
			return "", 0, false
		}
		return key, style, true
	}
	return "", 0, false
}

// Exists 瓦片是否已缓存
func (r *Repository) Exists(key tilesystem.QuadKey, style Style) bool {
	info, err := os.Stat(r.Path(key, style))
	return err == nil && info.Mode().IsRegular()
}

// Prepare 创建瓦片所在目录, 可重复调用
func (r *Repository) Prepare(key tilesystem.QuadKey, style Style) error {
	return os.MkdirAll(filepath.Dir(r.Path(key, style)), os.ModePerm)
}

// Put 写入瓦片. 先写临时文件再改名, 失败时删除临时文件, 不会留下残缺的瓦片.
// size >= 0 时读到的长度必须一致.
func (r *Repository) Put(key tilesystem.QuadKey, style Style, src io.Reader, size int64) (n int64, err error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrEmpty, key, style)
	}
	if err := r.Prepare(key, style); err != nil {
		return 0, err
	}
	path := r.Path(key, style)
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				r.log.Warnf("remove temp file %s error ~ %s", tmp.Name(), rmErr)
			}
		}
	}()

	n, err = io.Copy(tmp, src)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrEmpty, key, style)
	}
	if size > 0 && n != size {
		return n, fmt.Errorf("%s %s: got %d of %d bytes: %w", key, style, n, size, io.ErrUnexpectedEOF)
	}
	if err = tmp.Close(); err != nil {
		return n, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return n, err
	}
	return n, nil
}

// Open 打开已缓存的瓦片
func (r *Repository) Open(key tilesystem.QuadKey, style Style) (*os.File, error) {
	return os.Open(r.Path(key, style))
}

// Read 读取已缓存的瓦片
func (r *Repository) Read(key tilesystem.QuadKey, style Style) ([]byte, error) {
	return os.ReadFile(r.Path(key, style))
}

// Remove 删除瓦片, 不存在时不报错
func (r *Repository) Remove(key tilesystem.QuadKey, style Style) error {
	err := os.Remove(r.Path(key, style))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// WalkFunc 遍历回调, 返回错误时停止遍历
type WalkFunc func(key tilesystem.QuadKey, style Style, size int64) error

// Walk 遍历全部已缓存的瓦片, 忽略临时文件和无法识别的文件
func (r *Repository) Walk(fn WalkFunc) error {
	dir := r.TileDir()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key, style, ok := parseRelativePath(rel)
		if !ok {
			r.log.Debugf("skip unknown file %s", path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(key, style, info.Size())
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Usage 缓存占用
type Usage struct {
	Count int
	Bytes int64
}

// AvgSize 实测的平均瓦片大小
func (u Usage) AvgSize() int64 {
	if u.Count == 0 {
		return 0
	}
	return u.Bytes / int64(u.Count)
}

// Usage 统计已缓存瓦片的个数和总大小
func (r *Repository) Usage() (Usage, error) {
	var u Usage
	err := r.Walk(func(_ tilesystem.QuadKey, _ Style, size int64) error {
		u.Count++
		u.Bytes += size
		return nil
	})
	return u, err
}
