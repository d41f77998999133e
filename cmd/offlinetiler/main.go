package main

import (
	"flag"
	"fmt"
	"os"

	"offlinetiler/config"
)

var conf *config.Config

func main() {
	// 初始化控制台
	InitFlag()
	// 开始安全退出任务
	InitSafeExit()
	// 初始化配置
	var err error
	conf, err = config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// 初始化日志
	InitLog(conf)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(cmd, args); err != nil {
		log.Errorf("%s: %s", cmd, err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	switch cmd {
	case "add":
		return cmdAdd(args)
	case "list":
		return cmdList()
	case "remove":
		return cmdRemove(args)
	case "download":
		return cmdDownload(args)
	case "stat":
		return cmdStat()
	case "export":
		return cmdExport(args)
	case "serve":
		return cmdServe(args)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}
