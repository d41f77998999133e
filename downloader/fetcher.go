package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"offlinetiler/repository"
	"offlinetiler/tilesystem"
)

// DefaultURL 默认瓦片地址模板
const DefaultURL = "http://ecn.t0.tiles.virtualearth.net/tiles/{style}{quadkey}.{ext}?g=471"

// ErrStatus 服务端返回非 200
var ErrStatus = errors.New("downloader: unexpected status")

// Fetcher 获取单个瓦片. 返回的 size 未知时为 -1.
type Fetcher interface {
	Fetch(ctx context.Context, key tilesystem.QuadKey, style repository.Style) (body io.ReadCloser, size int64, err error)
}

// HTTPFetcher 按地址模板发 GET 请求.
// 模板支持 {quadkey} {style} {ext} {x} {y} {z}.
type HTTPFetcher struct {
	Client *http.Client
	URL    string
}

// NewHTTPFetcher 创建 HTTP 加载器, url 为空时使用默认模板
func NewHTTPFetcher(client *http.Client, url string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if url == "" {
		url = DefaultURL
	}
	return &HTTPFetcher{Client: client, URL: url}
}

// TileURL 获取瓦片URL
func (f *HTTPFetcher) TileURL(key tilesystem.QuadKey, style repository.Style) string {
	url := strings.ReplaceAll(f.URL, "{quadkey}", key.String())
	url = strings.ReplaceAll(url, "{style}", style.Code())
	url = strings.ReplaceAll(url, "{ext}", style.Ext())
	if t, zoom, err := key.Tile(); err == nil {
		url = strings.ReplaceAll(url, "{x}", strconv.Itoa(t.X))
		url = strings.ReplaceAll(url, "{y}", strconv.Itoa(t.Y))
		url = strings.ReplaceAll(url, "{z}", strconv.Itoa(zoom))
	}
	return url
}

// Fetch 发起请求, 调用方负责关闭 body
func (f *HTTPFetcher) Fetch(ctx context.Context, key tilesystem.QuadKey, style repository.Style) (io.ReadCloser, int64, error) {
	url := f.TileURL(key, style)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s %d", ErrStatus, url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
