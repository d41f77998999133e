package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"offlinetiler/downloader"
	"offlinetiler/export"
	"offlinetiler/repository"
	"offlinetiler/selection"
	"offlinetiler/server"
	"offlinetiler/tilelayer"
	"offlinetiler/tilesystem"
)

// openRepo 打开缓存目录, 不存在时创建
func openRepo() (*repository.Repository, error) {
	if err := os.MkdirAll(conf.Output.Directory, os.ModePerm); err != nil {
		return nil, err
	}
	return repository.New(conf.Output.Directory, repository.WithLogger(log))
}

func newDownloader(repo *repository.Repository, opts ...downloader.Option) *downloader.Downloader {
	client := &http.Client{Timeout: conf.Timeout()}
	opts = append([]downloader.Option{
		downloader.WithLogger(log),
		downloader.WithWorkers(conf.Task.Workers),
		downloader.WithDelay(conf.TimeDelay()),
	}, opts...)
	return downloader.New(repo, downloader.NewHTTPFetcher(client, conf.Tm.URL), opts...)
}

func findSelection(repo *repository.Repository, name string) (*selection.Selection, error) {
	list, err := selection.ReadFile(repo.SelectionFile(), tilesystem.Default)
	if err != nil {
		return nil, err
	}
	sel := list.Find(name)
	if sel == nil {
		return nil, fmt.Errorf("selection %s not found", name)
	}
	return sel, nil
}

// parseLatLon 解析 "lat,lon"
func parseLatLon(v string) (tilesystem.LatLon, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return tilesystem.LatLon{}, fmt.Errorf("invalid coordinate %q, want lat,lon", v)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return tilesystem.LatLon{}, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return tilesystem.LatLon{}, err
	}
	return tilesystem.LatLon{Lat: lat, Lon: lon}, nil
}

func formatSize(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}

func cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	name := fs.String("name", "", "selection `name`")
	nw := fs.String("nw", "", "north-west corner `lat,lon`")
	se := fs.String("se", "", "south-east corner `lat,lon`")
	level := fs.Int("level", 0, "selection `zoom` level")
	maxLevel := fs.Int("max", 0, "max `zoom` level to download (default: level)")
	aerial := fs.Bool("aerial", true, "download aerial tiles")
	road := fs.Bool("road", false, "download road tiles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	nwLL, err := parseLatLon(*nw)
	if err != nil {
		return err
	}
	seLL, err := parseLatLon(*se)
	if err != nil {
		return err
	}

	layer := tilelayer.New(tilesystem.Default)
	if err := layer.SetStable(*level, nwLL, seLL); err != nil {
		return err
	}
	sel, err := selection.New(*name, layer, layer.PixelNW(), layer.PixelSE(), *aerial, *road)
	if err != nil {
		return err
	}
	if *maxLevel > 0 {
		sel.MaxLevel = *maxLevel
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	err = selection.Update(repo.SelectionFile(), tilesystem.Default, func(l selection.List) (selection.List, error) {
		return l.Add(sel)
	})
	if err != nil {
		return err
	}
	log.Infof("selection %s added, %d tiles, about %s", sel, sel.NumTotalTiles(), formatSize(sel.TotalFileSize(conf.Task.AvgTileSize)))
	return nil
}

func cmdList() error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	list, err := selection.ReadFile(repo.SelectionFile(), tilesystem.Default)
	if err != nil {
		return err
	}
	for _, sel := range list {
		styles := make([]string, 0, 2)
		for _, style := range sel.Styles() {
			styles = append(styles, style.String())
		}
		status := ""
		if sel.Complete {
			status = " complete"
		}
		fmt.Printf("%s [%s] %d tiles, about %s%s\n", sel, strings.Join(styles, ","),
			sel.NumTotalTiles(), formatSize(sel.TotalFileSize(conf.Task.AvgTileSize)), status)
		for level := tilesystem.ZoomMin; level <= sel.MaxLevel; level++ {
			log.Debugf("  zoom: %d, tiles: %d, about %s", level, sel.NumTiles(level), formatSize(sel.FileSize(level, conf.Task.AvgTileSize)))
		}
	}
	return nil
}

func cmdRemove(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: remove <name>")
	}
	repo, err := openRepo()
	if err != nil {
		return err
	}
	return selection.Update(repo.SelectionFile(), tilesystem.Default, func(l selection.List) (selection.List, error) {
		out, ok := l.Remove(args[0])
		if !ok {
			return l, fmt.Errorf("selection %s not found", args[0])
		}
		log.Infof("selection %s removed", args[0])
		return out, nil
	})
}

func cmdDownload(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: download <name>")
	}
	start := time.Now()
	repo, err := openRepo()
	if err != nil {
		return err
	}
	sel, err := findSelection(repo, args[0])
	if err != nil {
		return err
	}

	bar := pb.New(100).Prefix(fmt.Sprintf("%s : ", sel.Name)).Postfix("\n")
	bar.SetRefreshRate(time.Second)
	bar.Start()

	dl := newDownloader(repo)
	job, err := dl.Start(context.Background(), sel, func(percent int) {
		bar.Set(percent)
	})
	if err != nil {
		bar.Finish()
		return err
	}
	// 注册安全退出
	SafeExitInst.Register(job.Cancel)

	r := job.Wait()
	bar.FinishPrint(fmt.Sprintf("Task %s %s finished ~", job.ID, sel.Name))
	log.Infof("%d/%d tiles, %d failed, %s, %.3fs", r.Success, r.Total, r.Failure, formatSize(r.Bytes), time.Since(start).Seconds())
	if r.Cancelled || r.Failure > 0 {
		return nil
	}
	return selection.MarkComplete(repo.SelectionFile(), tilesystem.Default, sel.Name)
}

func cmdStat() error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	usage, err := repo.Usage()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d tiles, %s\n", repo.TileDir(), usage.Count, formatSize(usage.Bytes))
	fmt.Printf("average tile size: %d bytes observed, %d bytes configured\n", usage.AvgSize(), conf.Task.AvgTileSize)
	return nil
}

func cmdExport(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: export <name> <aerial|road> <file.mbtiles>")
	}
	style, err := repository.ParseStyle(args[1])
	if err != nil {
		return err
	}
	repo, err := openRepo()
	if err != nil {
		return err
	}
	sel, err := findSelection(repo, args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SafeExitInst.Register(cancel)

	stats, err := export.New(repo, export.WithLogger(log)).Export(ctx, sel, style, args[2])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d tiles, %d missing, %s\n", args[2], stats.Tiles, stats.Missing, formatSize(stats.Bytes))
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", conf.Server.Addr, "listen `address`")
	if err := fs.Parse(args); err != nil {
		return err
	}
	repo, err := openRepo()
	if err != nil {
		return err
	}
	dl := newDownloader(repo, downloader.WithMetrics(downloader.NewMetrics(prometheus.DefaultRegisterer)))
	srv := server.New(repo, dl,
		server.WithLogger(log),
		server.WithGatherer(prometheus.DefaultGatherer),
		server.WithCacheSize(conf.Server.CacheSize),
	)
	defer srv.Close()

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SafeExitInst.Register(cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("HTTP server listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
