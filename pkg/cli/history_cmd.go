package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sdlq/internal/config"
	"sdlq/internal/history"
)

// historyDocument is the JSON output shape for one recorded run.
type historyDocument struct {
	ID           string  `json:"id"`
	Query        string  `json:"query"`
	QueryType    string  `json:"queryType"`
	StartTime    string  `json:"startTime"`
	EndTime      string  `json:"endTime"`
	Status       string  `json:"status"`
	RowCount     int64   `json:"rowCount"`
	MatchCount   float64 `json:"matchCount"`
	Truncated    bool    `json:"truncated"`
	Partial      bool    `json:"partial"`
	ElapsedMs    int64   `json:"elapsedMs"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func historyRunDocument(run *history.Run) historyDocument {
	doc := historyDocument{
		ID:         run.ID,
		Query:      run.Query,
		QueryType:  run.QueryType,
		StartTime:  run.StartTime,
		EndTime:    run.EndTime,
		Status:     run.Status,
		RowCount:   run.RowCount,
		MatchCount: run.MatchCount,
		Truncated:  run.Truncated,
		Partial:    run.Partial,
		ElapsedMs:  run.ElapsedMS,
		CreatedAt:  run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if run.ErrorMessage != nil {
		doc.ErrorMessage = *run.ErrorMessage
	}
	return doc
}

// openHistoryStore opens the history database named by the environment
// configuration. History commands work without service credentials.
func openHistoryStore() (*history.Store, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.HistoryDBPath)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded query runs",
	}
	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPurgeCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent query runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistoryStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				docs := make([]historyDocument, len(runs))
				for i := range runs {
					docs[i] = historyRunDocument(&runs[i])
				}
				return printJSON(os.Stdout, docs)
			}

			rows := make([][]string, len(runs))
			for i, run := range runs {
				rows[i] = []string{
					run.ID,
					run.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					run.Status,
					strconv.FormatInt(run.RowCount, 10),
					strconv.FormatFloat(run.MatchCount, 'f', 0, 64),
					fmt.Sprintf("%dms", run.ElapsedMS),
					compactQuery(run.Query, 48),
				}
			}
			printTable(os.Stdout, []string{"id", "created", "status", "rows", "matches", "elapsed", "query"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded query run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, historyRunDocument(run))
			}

			fields := map[string]string{
				"id":        run.ID,
				"query":     run.Query,
				"type":      run.QueryType,
				"start":     run.StartTime,
				"end":       run.EndTime,
				"status":    run.Status,
				"rows":      strconv.FormatInt(run.RowCount, 10),
				"matches":   strconv.FormatFloat(run.MatchCount, 'f', 0, 64),
				"truncated": strconv.FormatBool(run.Truncated),
				"partial":   strconv.FormatBool(run.Partial),
				"elapsed":   fmt.Sprintf("%dms", run.ElapsedMS),
				"created":   run.CreatedAt.UTC().Format(time.RFC3339),
			}
			if run.ErrorMessage != nil {
				fields["error"] = *run.ErrorMessage
			}
			printDetail(os.Stdout, fields)
			return nil
		},
	}
}

func newHistoryPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete runs recorded before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be a positive duration")
			}

			store, err := openHistoryStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			purged, err := store.PurgeOlderThan(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{"purged": purged})
			}
			fmt.Fprintf(os.Stdout, "Purged %d runs older than %s\n", purged, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete runs recorded before now minus this duration (required)")
	_ = cmd.MarkFlagRequired("older-than")

	return cmd
}

// compactQuery squashes whitespace and trims the query for list output.
func compactQuery(q string, width int) string {
	return truncateCell(strings.Join(strings.Fields(q), " "), width)
}
