package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/attendkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/attendkeeper/internal/client/cli"
	"github.com/dmitrijs2005/attendkeeper/internal/client/config"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	logger, closeLog := logging.NewFileLogger(logging.FileOptions{Path: cfg.LogFile})
	defer closeLog()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	app.Root(ctx)

}
