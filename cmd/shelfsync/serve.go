package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shelfwise/shelfsync/internal/config"
	"github.com/shelfwise/shelfsync/internal/daemon"
	"github.com/shelfwise/shelfsync/internal/dashboard"
	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and dashboard",
	Long: `Run the background sync loop: a full cycle every interval, plus
immediate cycles when connectivity returns or the dashboard requests one.

The dashboard serves /api/status, /api/sync, /api/conflicts and a /ws
event stream for the desktop frontend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logWriter := logOutput(cfg)
		logger := log.New(logWriter, "[shelfsync] ", log.LstdFlags)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		adapter, closeAdapter, err := buildAdapter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("remote backend: %w", err)
		}
		defer closeAdapter()

		conn := syncengine.NewConnectivity(adapter, cfg.Sync.Interval,
			log.New(logWriter, "[connectivity] ", log.LstdFlags))

		engine, err := syncengine.New(syncengine.Config{
			Store:        st,
			Adapter:      adapter,
			Connectivity: conn,
			Logger:       log.New(logWriter, "[sync] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		d := daemon.New(engine, conn, daemon.Config{
			Interval: cfg.Sync.Interval,
			Logger:   log.New(logWriter, "[daemon] ", log.LstdFlags),
		})

		if cfg.Dashboard.Enabled {
			srv := dashboard.NewServer(engine, st, d.TriggerSync, dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: log.New(logWriter, "[dashboard] ", log.LstdFlags),
			})
			engine.SetEvents(dashboard.NewHandler(srv, logger))
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() {
				if err := srv.Stop(); err != nil {
					logger.Printf("dashboard shutdown: %v", err)
				}
			}()
		}

		logger.Printf("serving with %s backend, database %s", cfg.Remote.Kind, cfg.Database.Path)
		d.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// logOutput returns stderr, optionally teed into a rotating log file.
func logOutput(cfg *config.Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: 3,
	})
}
