package selection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"offlinetiler/tilesystem"
)

// 选区文件中每个要素的属性名
const (
	propName     = "name"
	propLevel    = "level"
	propNWX      = "nw_x"
	propNWY      = "nw_y"
	propSEX      = "se_x"
	propSEY      = "se_y"
	propAerial   = "aerial"
	propRoad     = "road"
	propMaxLevel = "max_level"
	propComplete = "complete"
)

// List 选区列表, 按名称唯一
type List []*Selection

// Find 按名称查找
func (l List) Find(name string) *Selection {
	for _, s := range l {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Add 添加选区, 名称重复时报错
func (l List) Add(s *Selection) (List, error) {
	if err := s.Validate(); err != nil {
		return l, err
	}
	if l.Find(s.Name) != nil {
		return l, fmt.Errorf("%w: %s already exists", ErrInvalid, s.Name)
	}
	return append(l, s), nil
}

// Remove 按名称删除, 返回新列表以及是否找到
func (l List) Remove(name string) (List, bool) {
	for i, s := range l {
		if s.Name == name {
			out := make(List, 0, len(l)-1)
			out = append(out, l[:i]...)
			return append(out, l[i+1:]...), true
		}
	}
	return l, false
}

// Feature 选区转 geojson 要素, 几何为选区范围
func (s *Selection) Feature() *geojson.Feature {
	f := geojson.NewFeature(s.Bound().ToPolygon())
	f.ID = s.Name
	f.Properties[propName] = s.Name
	f.Properties[propLevel] = s.Level
	f.Properties[propNWX] = s.NW.X
	f.Properties[propNWY] = s.NW.Y
	f.Properties[propSEX] = s.SE.X
	f.Properties[propSEY] = s.SE.Y
	f.Properties[propAerial] = s.Aerial
	f.Properties[propRoad] = s.Road
	f.Properties[propMaxLevel] = s.MaxLevel
	f.Properties[propComplete] = s.Complete
	return f
}

// FromFeature 由要素属性还原选区, 几何只用于展示
func FromFeature(f *geojson.Feature, sys tilesystem.System) (*Selection, error) {
	p := f.Properties
	if _, ok := p[propLevel]; !ok {
		return nil, fmt.Errorf("%w: feature %v has no %s", ErrInvalid, f.ID, propLevel)
	}
	s := &Selection{
		Name:     p.MustString(propName, ""),
		Level:    p.MustInt(propLevel, 0),
		NW:       tilesystem.Tile{X: p.MustInt(propNWX, 0), Y: p.MustInt(propNWY, 0)},
		SE:       tilesystem.Tile{X: p.MustInt(propSEX, 0), Y: p.MustInt(propSEY, 0)},
		Aerial:   p.MustBool(propAerial, false),
		Road:     p.MustBool(propRoad, false),
		MaxLevel: p.MustInt(propMaxLevel, 0),
		Complete: p.MustBool(propComplete, false),
		sys:      sys,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FeatureCollection 选区列表转 geojson
func (l List) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range l {
		fc.Append(s.Feature())
	}
	return fc
}

// ReadFile 读取选区文件, 文件不存在时返回空列表
func ReadFile(path string, sys tilesystem.System) (List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal selection file %s: %w", path, err)
	}
	list := make(List, 0, len(fc.Features))
	for _, f := range fc.Features {
		s, err := FromFeature(f, sys)
		if err != nil {
			return nil, fmt.Errorf("selection file %s: %w", path, err)
		}
		list = append(list, s)
	}
	return list, nil
}

// Update 读取选区文件, 由 fn 修改后写回. fn 返回错误时不写入.
func Update(path string, sys tilesystem.System, fn func(List) (List, error)) error {
	list, err := ReadFile(path, sys)
	if err != nil {
		return err
	}
	list, err = fn(list)
	if err != nil {
		return err
	}
	return WriteFile(path, list)
}

// MarkComplete 把选区标记为已下载完成
func MarkComplete(path string, sys tilesystem.System, name string) error {
	return Update(path, sys, func(l List) (List, error) {
		s := l.Find(name)
		if s == nil {
			return l, fmt.Errorf("%w: %s not found", ErrInvalid, name)
		}
		s.Complete = true
		return l, nil
	})
}

// WriteFile 写入选区文件, 先写临时文件再改名
func WriteFile(path string, list List) (err error) {
	data, err := list.FeatureCollection().MarshalJSON()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".selection-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
