// Command shelfsync keeps a school library's local database in sync with its
// hosted backend. It runs the offline-first daemon, serves the status
// dashboard, and offers one-shot sync and status commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfwise/shelfsync/internal/config"
	"github.com/shelfwise/shelfsync/internal/remote"
	"github.com/shelfwise/shelfsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shelfsync",
	Short: "Offline-first sync engine for the shelfwise library manager",
	Long: `shelfsync maintains a local SQLite copy of the library catalog,
journals every offline mutation, and reconciles with the hosted backend
whenever a connection is available.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ~/.config/shelfsync, /etc/shelfsync)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration for a command, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the local database per config.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if cfg.Sync.MaxJournalRetries > 0 {
		st.SetMaxJournalRetries(cfg.Sync.MaxJournalRetries)
	}
	return st, nil
}

// buildAdapter constructs the configured remote backend.
func buildAdapter(ctx context.Context, cfg *config.Config) (remote.Adapter, func(), error) {
	switch cfg.Remote.Kind {
	case config.RemotePostgres:
		pg, err := remote.NewPostgres(ctx, remote.PostgresConfig{
			DSN:      cfg.Remote.DSN,
			PageSize: cfg.Remote.PageSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		rest, err := remote.NewREST(remote.RESTConfig{
			BaseURL:    cfg.Remote.URL,
			APIKey:     cfg.Remote.APIKey,
			PageSize:   cfg.Remote.PageSize,
			Timeout:    cfg.Remote.Timeout,
			MaxRetries: uint64(cfg.Remote.MaxRetries),
		})
		if err != nil {
			return nil, nil, err
		}
		return rest, func() {}, nil
	}
}
