package cmd

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fapiaokit/invoice-collector/config"
	"github.com/fapiaokit/invoice-collector/state"
)

var (
	ledgerStatePath  string
	ledgerFailedOnly bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the processing ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ledgerStatePath
		if path == "" {
			dir, err := config.DefaultDir()
			if err != nil {
				return fmt.Errorf("resolve state path: %w", err)
			}
			path = dir + "/state.json"
		}

		store, err := state.Open(path, slog.Default())
		if err != nil {
			return err
		}

		sum := store.Summary()
		pterm.DefaultSection.Println("Ledger summary")
		pterm.Info.Printf("State file: %s\n", path)
		pterm.Info.Printf("Total: %d  Done: %d  Failed: %d\n", sum.Total, sum.Done, sum.Failed)

		entries := store.All()
		ids := make([]string, 0, len(entries))
		for id, entry := range entries {
			if ledgerFailedOnly && entry.Status != state.StatusFailed {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil
		}

		// Newest first.
		sort.Slice(ids, func(i, j int) bool {
			return entries[ids[i]].ProcessedAt > entries[ids[j]].ProcessedAt
		})

		rows := pterm.TableData{{"时间", "状态", "主题", "文件/原因"}}
		for _, id := range ids {
			entry := entries[id]
			detail := fmt.Sprintf("%d 个文件", len(entry.OutputFiles))
			if entry.Status == state.StatusFailed {
				detail = entry.Reason
			}
			rows = append(rows, []string{entry.ProcessedAt, entry.Status, clipRunes(entry.Subject, 30), detail})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerStatePath, "state", "", "Path to the ledger file (default ~/invoice-collector/state.json)")
	ledgerCmd.Flags().BoolVar(&ledgerFailedOnly, "failed", false, "Show only failed entries")
	rootCmd.AddCommand(ledgerCmd)
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
