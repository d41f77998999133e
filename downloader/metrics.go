package downloader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 瓦片结果标签
const (
	resultCached  = "cached"
	resultFetched = "fetched"
	resultFailed  = "failed"
)

// Metrics 下载指标
type Metrics struct {
	Tiles        *prometheus.CounterVec
	Bytes        prometheus.Counter
	FetchSeconds prometheus.Histogram
}

// NewMetrics 在 reg 上注册下载指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Tiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlinetiler",
			Name:      "tiles_total",
			Help:      "Tiles processed by download jobs, by result.",
		}, []string{"result"}),
		Bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "offlinetiler",
			Name:      "bytes_total",
			Help:      "Bytes written to the tile cache.",
		}),
		FetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "offlinetiler",
			Name:      "fetch_seconds",
			Help:      "Time to fetch and store one tile.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(result string, n int64, seconds float64) {
	if m == nil {
		return
	}
	m.Tiles.WithLabelValues(result).Inc()
	if result == resultFetched {
		m.Bytes.Add(float64(n))
	}
	if result != resultCached {
		m.FetchSeconds.Observe(seconds)
	}
}
