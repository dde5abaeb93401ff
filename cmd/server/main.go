package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/attendkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/server"
	"github.com/dmitrijs2005/attendkeeper/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
