/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-core/engine"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/testbed"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.ParseFlags()

	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		core.LogError("unable to load configuration", "err", err)
		return 1
	}

	core.InitializeLogger(core.LoggerConfig{
		Level:        cfg.Log.Level,
		ReportCaller: cfg.Log.ReportCaller,
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		MaxAgeDays:   cfg.Log.MaxAgeDays,
	})
	defer core.ShutdownLogger()

	tb := testbed.NewTestGame(cfg)

	e, err := engine.New(cfg, tb)
	if err != nil {
		core.LogError("unable to create engine", "err", err)
		return 1
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	go func() {
		if s, ok := <-sigCh; ok {
			core.LogInfo("signal received, stopping", "signal", s.String())
			e.Stop()
		}
	}()

	code := 0
	if err := e.Initialize(); err != nil {
		core.LogError("engine initialization failed", "err", err)
		code = 1
	} else if err := e.Run(); err != nil {
		core.LogError("engine stopped with an error", "err", err)
		code = 1
	}
	if err := e.Shutdown(); err != nil {
		core.LogError("engine shutdown failed", "err", err)
		code = 1
	}
	return code
}
