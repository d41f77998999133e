package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf         bool
	configPath string
	logLevel   string
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.Usage = usage
	flag.Parse()

	if hf || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `offlinetiler version: offlinetiler/v0.1.0
Usage: offlinetiler [-h] [-c filename] [-l logLevel] <command> [args]

Commands:
  add -name n -nw lat,lon -se lat,lon -level z [-max z] [-aerial] [-road]
  list
  remove <name>
  download <name>
  stat
  export <name> <aerial|road> <file.mbtiles>
  serve [-addr host:port]

`)
	flag.PrintDefaults()
}
