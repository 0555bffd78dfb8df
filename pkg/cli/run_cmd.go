package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sdlq/internal/config"
	"sdlq/internal/history"
	"sdlq/internal/materialize"
	"sdlq/internal/sdl"
	"sdlq/internal/useragent"
)

// maxConcurrentQueries bounds how many queries one invocation keeps in
// flight against the service at a time.
const maxConcurrentQueries = 4

// runParams holds the submission settings shared by every query of one
// run invocation.
type runParams struct {
	start      string
	end        string
	tenant     *bool
	accountIDs []string
	budget     time.Duration
	limit      int
}

// runOutcome is the result of one query, successful or not.
type runOutcome struct {
	query   string
	result  *sdl.TableResult
	partial bool
	elapsed time.Duration
	runID   string
	err     error
}

// runDocument is the JSON output shape for one query.
type runDocument struct {
	Query          string       `json:"query"`
	Columns        []sdl.Column `json:"columns"`
	Values         [][]any      `json:"values"`
	MatchingEvents float64      `json:"matchingEvents"`
	Warnings       []string     `json:"warnings"`
	Partial        bool         `json:"partial"`
	Truncated      bool         `json:"truncated"`
	ElapsedMs      int64        `json:"elapsedMs"`
	RunID          string       `json:"runId,omitempty"`
	Error          string       `json:"error,omitempty"`
}

func newRunCmd(sess *session) *cobra.Command {
	var (
		queries     []string
		start       string
		end         string
		tenant      bool
		accountIDs  []string
		pollTimeout time.Duration
		limit       int
		duckdbPath  string
		duckdbTable string
	)

	cmd := &cobra.Command{
		Use:   "run [query ...]",
		Short: "Run power queries and print their results",
		Long: `Run submits one or more power queries, polls each to completion, and
prints the accumulated results in submission order. Queries can be given
as positional arguments or repeated --query flags; multiple queries run
concurrently.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := append(append([]string{}, queries...), args...)
			if len(all) == 0 {
				return fmt.Errorf("at least one query is required (positional or --query)")
			}

			cfg, err := sess.settings()
			if err != nil {
				return err
			}
			logger := cliLogger(cfg)
			for _, warning := range cfg.Warnings {
				logger.Warn(warning)
			}

			params, err := resolveRunParams(cmd, cfg, start, end, tenant, accountIDs, pollTimeout, limit)
			if err != nil {
				return err
			}

			store, err := history.Open(cfg.HistoryDBPath)
			if err != nil {
				logger.Warn("query history disabled", "path", cfg.HistoryDBPath, "error", err)
				store = nil
			} else {
				defer func() { _ = store.Close() }()
			}

			outcomes := runQueries(cmd.Context(), cfg, logger, store, all, params)

			if duckdbPath != "" {
				if err := materializeOutcomes(cmd.Context(), duckdbPath, duckdbTable, outcomes); err != nil {
					return err
				}
			}

			if getOutputFormat(cmd) == "json" {
				if err := printRunJSON(os.Stdout, outcomes); err != nil {
					return err
				}
			} else {
				printRunTables(os.Stdout, outcomes)
			}

			var failed int
			for _, out := range outcomes {
				if out.err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d queries failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&queries, "query", "e", nil, "Query expression (repeatable)")
	cmd.Flags().StringVar(&start, "start", "24h", "Start of the time range: a duration like 24h or epoch milliseconds")
	cmd.Flags().StringVar(&end, "end", "", "End of the time range (defaults to now)")
	cmd.Flags().BoolVar(&tenant, "tenant", false, "Query across all tenant-accessible data")
	cmd.Flags().StringArrayVar(&accountIDs, "account-id", nil, "Account to scope the query to (repeatable)")
	cmd.Flags().DurationVar(&pollTimeout, "poll-timeout", 0, "Poll budget per query (defaults to SDLQ_POLL_TIMEOUT_MS)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Row cap per query (defaults to SDLQ_MAX_QUERY_RESULTS)")
	cmd.Flags().StringVar(&duckdbPath, "duckdb-out", "", "Write results into this DuckDB database file")
	cmd.Flags().StringVar(&duckdbTable, "duckdb-table", "results", "Table name for --duckdb-out")

	return cmd
}

func resolveRunParams(cmd *cobra.Command, cfg *config.Config, start, end string, tenant bool, accountIDs []string, pollTimeout time.Duration, limit int) (runParams, error) {
	p := runParams{accountIDs: accountIDs}

	var err error
	p.start, err = sdl.NormalizeTimeParam(start)
	if err != nil {
		return runParams{}, fmt.Errorf("invalid --start: %w", err)
	}
	if end == "" {
		p.end = sdl.DurationParam(0)
	} else if p.end, err = sdl.NormalizeTimeParam(end); err != nil {
		return runParams{}, fmt.Errorf("invalid --end: %w", err)
	}

	if cmd.Flags().Changed("tenant") {
		p.tenant = &tenant
	}

	p.budget = cfg.PollTimeout()
	if pollTimeout > 0 {
		p.budget = pollTimeout
		// A poll budget beyond the query TTL would outlive the server state.
		if ttl := cfg.QueryTTL(); p.budget > ttl {
			p.budget = ttl
		}
	}

	p.limit = cfg.MaxQueryResults
	if limit > 0 && limit < p.limit {
		p.limit = limit
	}
	return p, nil
}

// runQueries executes the queries concurrently and returns outcomes in
// submission order. A failed query never cancels its siblings; errors
// are carried per outcome.
func runQueries(ctx context.Context, cfg *config.Config, logger *slog.Logger, store *history.Store, queries []string, params runParams) []runOutcome {
	outcomes := make([]runOutcome, len(queries))
	var g errgroup.Group
	g.SetLimit(maxConcurrentQueries)
	for i, query := range queries {
		g.Go(func() error {
			outcomes[i] = executeQuery(ctx, cfg, logger, store, query, params)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func executeQuery(ctx context.Context, cfg *config.Config, logger *slog.Logger, store *history.Store, query string, p runParams) runOutcome {
	started := time.Now()
	out := runOutcome{query: query}

	client, err := sdl.NewClient(cfg.ClientConfig(useragent.String("cli"), logger))
	if err != nil {
		out.err = err
		out.runID = recordRun(logger, store, query, p, out)
		return out
	}
	pq := sdl.NewPowerQueryHandler(client, cfg.AuthToken, p.limit, sdl.HandlerConfig{
		PollTimeout:  p.budget,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})

	err = pq.SubmitPowerQuery(ctx, sdl.PowerQueryRequest{
		StartTime:  p.start,
		EndTime:    p.end,
		Query:      query,
		Tenant:     p.tenant,
		AccountIDs: p.accountIDs,
	})
	if err == nil {
		out.result, err = pq.PollUntilComplete(ctx)
	}
	out.elapsed = time.Since(started)
	out.err = err
	if err == nil {
		out.partial, _ = pq.IsResultPartial()
	}

	out.runID = recordRun(logger, store, query, p, out)
	return out
}

// recordRun persists the outcome. Recording uses a background context so
// a canceled invocation still leaves a history row.
func recordRun(logger *slog.Logger, store *history.Store, query string, p runParams, out runOutcome) string {
	if store == nil {
		return ""
	}
	run := &history.Run{
		Query:     query,
		QueryType: string(sdl.QueryTypePQ),
		StartTime: p.start,
		EndTime:   p.end,
		Status:    history.StatusSucceeded,
		ElapsedMS: out.elapsed.Milliseconds(),
	}
	if out.err != nil {
		run.Status = history.StatusFailed
		var timeoutErr *sdl.TimeoutError
		if errors.As(out.err, &timeoutErr) {
			run.Status = history.StatusTimeout
		}
		msg := out.err.Error()
		run.ErrorMessage = &msg
	} else {
		run.RowCount = int64(len(out.result.Values))
		run.MatchCount = out.result.MatchCount
		run.Truncated = out.result.TruncatedAtLimit
		run.Partial = out.partial
	}
	recorded, err := store.Record(context.Background(), run)
	if err != nil {
		logger.Warn("recording query run failed", "error", err)
		return ""
	}
	return recorded.ID
}

// printRunTables renders each successful outcome as a table followed by
// a summary line. Failures and warnings go to stderr.
func printRunTables(w io.Writer, outcomes []runOutcome) {
	for i, out := range outcomes {
		if len(outcomes) > 1 {
			fmt.Fprintf(w, "# query %d: %s\n", i+1, out.query)
		}
		if out.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", out.err)
			continue
		}
		res := out.result
		printTable(w, res.ColumnNames(), stringifyRows(res.Values))
		fmt.Fprintf(w, "%d rows, %.0f matching events, %s\n",
			len(res.Values), res.MatchCount, out.elapsed.Round(time.Millisecond))
		for _, warning := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
		}
		if out.partial {
			fmt.Fprintln(os.Stderr, "warning: results are partial")
		}
		if i < len(outcomes)-1 {
			fmt.Fprintln(w)
		}
	}
}

// printRunJSON emits a single document for one query and an array for
// several, so the common case stays pipe-friendly.
func printRunJSON(w io.Writer, outcomes []runOutcome) error {
	docs := make([]runDocument, len(outcomes))
	for i, out := range outcomes {
		docs[i] = out.document()
	}
	if len(docs) == 1 {
		return printJSON(w, docs[0])
	}
	return printJSON(w, docs)
}

func (o runOutcome) document() runDocument {
	doc := runDocument{
		Query:     o.query,
		Columns:   []sdl.Column{},
		Values:    [][]any{},
		Warnings:  []string{},
		ElapsedMs: o.elapsed.Milliseconds(),
		RunID:     o.runID,
	}
	if o.err != nil {
		doc.Error = o.err.Error()
		return doc
	}
	res := o.result
	if res.Columns != nil {
		doc.Columns = res.Columns
	}
	if res.Values != nil {
		doc.Values = res.Values
	}
	if res.Warnings != nil {
		doc.Warnings = res.Warnings
	}
	doc.MatchingEvents = res.MatchCount
	doc.Partial = o.partial
	doc.Truncated = res.TruncatedAtLimit
	return doc
}

// materializeOutcomes loads successful results into a DuckDB file, one
// table per query.
func materializeOutcomes(ctx context.Context, path, table string, outcomes []runOutcome) error {
	mat, err := materialize.Open(path)
	if err != nil {
		return fmt.Errorf("open duckdb output: %w", err)
	}
	defer func() { _ = mat.Close() }()

	for i, out := range outcomes {
		if out.err != nil || len(out.result.Columns) == 0 {
			continue
		}
		name := table
		if len(outcomes) > 1 {
			name = fmt.Sprintf("%s_%d", table, i+1)
		}
		if err := mat.IntoTable(ctx, name, out.result); err != nil {
			return fmt.Errorf("materialize query %d: %w", i+1, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %d rows to table %q in %s\n", len(out.result.Values), name, path)
	}
	return nil
}
