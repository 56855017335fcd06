package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/attachkit/agent/admin"
	"github.com/attachkit/agent/agent"
	"github.com/attachkit/agent/compiler"
	"github.com/attachkit/agent/config"
	"github.com/attachkit/agent/deploy"
	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/results"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "attach-agent",
		Usage: "the in-process attach agent for live code replacement and method runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the agent config file. Defaults to searching upward for " + config.FileName + ".",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the attach server to listen on.",
			},
			&cli.StringFlag{
				Name:  "admin-addr",
				Usage: "The address for the admin HTTP server to listen on.",
			},
			&cli.StringFlag{
				Name:  "application-name",
				Usage: "The name the agent reports for the attached application.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if cliCtx.Bool("debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	logSugar := logger.Sugar()

	bus := events.NewBus()
	cache := results.NewCache()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatcherCfg := deploy.Config{
		Logger:          logSugar,
		ApplicationName: cfg.ApplicationName,
		Resolver:        deploy.NotFoundResolver{},
		Staging:         deploy.NewStaging(cfg.StagingDir),
		Results:         cache,
		Events:          bus,
		OnServerClose:   cancel,
	}
	if cfg.CompilerURL != "" {
		dispatcherCfg.Compiler = compiler.NewRemoteCompiler(cfg.CompilerURL, compiler.WithLogger(logger))
	}
	dispatcher := deploy.NewDispatcher(dispatcherCfg)

	server, err := agent.NewServer(dispatcher,
		agent.WithLogger(logger),
		agent.WithListenAddr(cfg.ListenAddr),
		agent.WithIdleTimeout(cfg.IdleTimeout),
		agent.WithReapInterval(cfg.ReapInterval),
		agent.WithProbeInterval(cfg.ProbeInterval),
		agent.WithEvents(bus),
	)
	if err != nil {
		return fmt.Errorf("building attach server: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Close()

	adminServer, err := admin.NewServer(cfg.ApplicationName,
		admin.WithLogger(logger),
		admin.WithListenAddr(cfg.AdminAddr),
		admin.WithRegistry(server.Registry()),
		admin.WithResults(cache),
		admin.WithEvents(bus),
	)
	if err != nil {
		return fmt.Errorf("building admin server: %w", err)
	}
	if err := adminServer.Start(); err != nil {
		return err
	}
	defer adminServer.Close()

	if cfg.WatchStaging {
		watcher := deploy.NewStagingWatcher(logSugar, dispatcher.HotDeploy(), cfg.StagingDir, "")
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logSugar.Errorf("staging watcher stopped: %s", err)
			}
		}()
	}

	<-ctx.Done()
	logSugar.Info("shutting down")
	return nil
}

func loadConfig(cliCtx *cli.Context) (config.Config, error) {
	cfg := config.Default()

	path := cliCtx.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, err
		}
		path = config.Find(wd)
	}
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}

	if addr := cliCtx.String("listen-addr"); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := cliCtx.String("admin-addr"); addr != "" {
		cfg.AdminAddr = addr
	}
	if name := cliCtx.String("application-name"); name != "" {
		cfg.ApplicationName = name
	}
	return cfg, nil
}
