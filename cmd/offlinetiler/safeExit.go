package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = new(SafeExit)
	go SafeExitInst.ListenSignal()
}

// SafeExit 第一次收到信号时执行注册的停止函数, 第二次直接退出
type SafeExit struct {
	funcs    []func()
	mu       sync.Mutex
	stopping bool
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

func (s *SafeExit) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping || len(s.funcs) == 0 {
		os.Exit(1)
	}
	s.stopping = true
	for _, f := range s.funcs {
		f()
	}
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		fmt.Fprintf(os.Stderr, "\n收到系统信号 %s, 正在停止任务, 请稍后\n", sig)
		s.stop()
	}
}
