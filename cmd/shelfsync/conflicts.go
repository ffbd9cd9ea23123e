package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelfwise/shelfsync/internal/store"
)

var conflictsAll bool

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List sync conflicts and stuck journal entries",
	Long: `List recorded sync conflicts, newest first. Automatic resolutions
appear with their strategy; open conflicts await a resolve. Journal entries
that exhausted their push retries are listed too, so an operator can retry
them after fixing the underlying data.`,
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

		conflicts, err := st.Conflicts(ctx, !conflictsAll)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
		}
		for _, c := range conflicts {
			state := "open"
			if c.Resolved {
				state = "resolved (" + c.Strategy + ")"
			}
			fmt.Printf("%s  %-12s %s  %s  %s\n",
				c.ID, c.TableName, c.RecordID, c.Type, state)
		}

		stuck, err := st.AttentionJournal(ctx)
		if err != nil {
			return err
		}
		if len(stuck) > 0 {
			fmt.Printf("\nJournal entries needing attention: %d\n", len(stuck))
			for _, e := range stuck {
				fmt.Printf("%s  %-12s %s  %s  %d retries: %s\n",
					e.ID, e.TableName, e.RecordID, e.Operation, e.RetryCount, e.ErrorMessage)
			}
		}
		return nil
	},
}

var resolveStrategy string

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve an open conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveStrategy != store.StrategyLocalWins && resolveStrategy != store.StrategyRemoteWins {
			return fmt.Errorf("unknown strategy %q (want %s or %s)",
				resolveStrategy, store.StrategyLocalWins, store.StrategyRemoteWins)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ResolveConflict(cmd.Context(), args[0], resolveStrategy); err != nil {
			return err
		}
		fmt.Printf("Conflict %s resolved (%s)\n", args[0], resolveStrategy)
		return nil
	},
}

var conflictsRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Re-queue a journal entry flagged for attention",
	Long: `Clear the attention flag and retry budget of a stuck journal entry
so the next sync cycle pushes it again. Use after fixing whatever the remote
rejected.`,
	Args: cobra.ExactArgs(1),
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

		if err := st.ClearJournalAttention(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Journal entry %s re-queued at %s\n",
			args[0], time.Now().Format("15:04:05"))
		return nil
	},
}

func init() {
	conflictsCmd.Flags().BoolVar(&conflictsAll, "all", false, "include resolved conflicts")
	conflictsResolveCmd.Flags().StringVar(&resolveStrategy, "strategy", store.StrategyRemoteWins,
		"winning side: local_wins or remote_wins")
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsRetryCmd)
	rootCmd.AddCommand(conflictsCmd)
}
