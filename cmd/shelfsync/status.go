package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/shelfwise/shelfsync/internal/schema"
	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()

		// Probe the backend so the status reflects reality, not just the
		// last daemon observation.
		adapter, closeAdapter, err := buildAdapter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("remote backend: %w", err)
		}
		defer closeAdapter()

		conn := syncengine.NewConnectivity(adapter, cfg.Sync.Interval,
			log.New(io.Discard, "", 0))
		conn.Refresh(ctx)

		engine, err := syncengine.New(syncengine.Config{
			Store:        st,
			Adapter:      adapter,
			Connectivity: conn,
			Logger:       log.New(io.Discard, "", 0),
		})
		if err != nil {
			return err
		}

		status, err := engine.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Database:       %s\n", cfg.Database.Path)
		fmt.Printf("Backend:        %s\n", cfg.Remote.Kind)
		fmt.Printf("Online:         %v\n", status.IsOnline)
		fmt.Printf("Initial sync:   %v\n", status.InitialSyncCompleted)
		fmt.Printf("Pending ops:    %d\n", status.PendingOperations)
		if !status.LastSync.IsZero() {
			fmt.Printf("Last sync:      %s\n", status.LastSync.Format("2006-01-02 15:04:05 MST"))
		}
		if status.LastError != "" {
			fmt.Printf("Last error:     %s\n", status.LastError)
		}

		fmt.Println("\nTables:")
		for _, tbl := range schema.SyncOrder() {
			cur, err := st.Cursor(ctx, tbl.Name)
			if err != nil {
				return err
			}
			total, synced, err := st.CountRecords(ctx, tbl.Name)
			if err != nil {
				return err
			}
			watermark := "never"
			if !cur.LastSync.IsZero() {
				watermark = cur.LastSync.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("  %-12s %d records (%d synced), last sync %s\n",
				tbl.Name, total, synced, watermark)
		}

		unresolved, err := st.Conflicts(ctx, true)
		if err != nil {
			return err
		}
		if len(unresolved) > 0 {
			fmt.Printf("\nUnresolved conflicts: %d\n", len(unresolved))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
