// Package config 读取 TOML 配置文件, 环境变量可覆盖同名配置 (OFFLINETILER_TASK_WORKERS).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"offlinetiler/downloader"
	"offlinetiler/selection"
)

// Config 配置
type Config struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Output struct {
		// Directory 瓦片缓存根目录
		Directory      string `mapstructure:"directory"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
	} `mapstructure:"output"`
	Task struct {
		Workers int `mapstructure:"workers"`
		// Timedelay 请求间隔, 毫秒
		Timedelay   int   `mapstructure:"timedelay"`
		AvgTileSize int64 `mapstructure:"avgTileSize"`
		// Timeout 单个请求超时, 秒, 0 表示不限
		Timeout int `mapstructure:"timeout"`
	} `mapstructure:"task"`
	Tm struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"tm"`
	Server struct {
		Addr      string `mapstructure:"addr"`
		CacheSize int64  `mapstructure:"cacheSize"`
	} `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.version", "v 0.1.0")
	v.SetDefault("app.title", "Offline Tiler")
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("task.workers", downloader.DefaultWorkers)
	v.SetDefault("task.timedelay", 0)
	v.SetDefault("task.avgTileSize", selection.DefaultAvgTileSize)
	v.SetDefault("task.timeout", 0)
	v.SetDefault("tm.url", downloader.DefaultURL)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cacheSize", 4096)
}

// Default 只含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		panic(fmt.Sprintf("默认配置解析失败: %s", err))
	}
	return &conf
}

// Load 读取配置文件. path 为空时只使用默认值和环境变量.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("offlinetiler")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file(%s) not exist", path)
		}
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file(%s) error, details: %w", v.ConfigFileUsed(), err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("配置文件解析失败: %w", err)
	}
	if conf.Task.Workers < 1 {
		conf.Task.Workers = 1
	}
	return &conf, nil
}

// TimeDelay 请求间隔
func (c *Config) TimeDelay() time.Duration {
	return time.Duration(c.Task.Timedelay) * time.Millisecond
}

// Timeout 请求超时
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Task.Timeout) * time.Second
}
