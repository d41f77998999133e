package repository

import "fmt"

// Style 瓦片样式
type Style int

const (
	// Aerial 卫星混合图
	Aerial Style = iota
	// Road 道路图
	Road
)

// Styles 全部样式, 下载时按此顺序
var Styles = []Style{Aerial, Road}

// Code 样式代码, 用在文件名和请求地址里
func (s Style) Code() string {
	switch s {
	case Aerial:
		return "h"
	case Road:
		return "r"
	}
	return "?"
}

// Ext 文件扩展名
func (s Style) Ext() string {
	switch s {
	case Aerial:
		return "jpeg"
	case Road:
		return "png"
	}
	return "bin"
}

// ContentType 对应的 MIME 类型
func (s Style) ContentType() string {
	switch s {
	case Aerial:
		return "image/jpeg"
	case Road:
		return "image/png"
	}
	return "application/octet-stream"
}

func (s Style) String() string {
	switch s {
	case Aerial:
		return "aerial"
	case Road:
		return "road"
	}
	return fmt.Sprintf("style(%d)", int(s))
}

// suffix 追加在编码最后一段后的文件名后缀
func (s Style) suffix() string {
	return "_" + s.Code() + "." + s.Ext() + "_"
}

// ParseStyle 按名称或代码解析样式
func ParseStyle(v string) (Style, error) {
	switch v {
	case "aerial", "h":
		return Aerial, nil
	case "road", "r":
		return Road, nil
	}
	return 0, fmt.Errorf("repository: unknown style %q", v)
}
