package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"ohlcv-syncv1/internal/ingest"
	"ohlcv-syncv1/internal/markethours"
	"ohlcv-syncv1/internal/metrics"
	"ohlcv-syncv1/internal/model"
	"ohlcv-syncv1/internal/scheduler"
	redisstore "ohlcv-syncv1/internal/store/redis"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ohlcvsync",
		Short:         "Incremental OHLCV bar sync with indicators and candlestick signals",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "config.yaml", "YAML config file (optional)")
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug|info|warn|error)")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newRecomputeCmd())
	return rootCmd
}

func globalFlags(cmd *cobra.Command) (path, level string) {
	path, _ = cmd.Flags().GetString("config")
	level, _ = cmd.Flags().GetString("log-level")
	return path, level
}

// newSyncCmd creates the one-shot sync command
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [SYMBOL...]",
		Short: "Run one sync pass",
		Long: `Fetch, reconcile and persist bars once, then recompute indicators.
With symbols, syncs them for --market/--interval; without, syncs every configured series.
Example: ohlcvsync sync 2330 2317 --market tw --interval 1d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig(globalFlags(cmd))
			if err != nil {
				return err
			}
			market, _ := cmd.Flags().GetString("market")
			interval, _ := cmd.Flags().GetString("interval")
			period, _ := cmd.Flags().GetString("period")
			expand, _ := cmd.Flags().GetBool("expand-history")
			if !cmd.Flags().Changed("expand-history") {
				expand = cfg.Sync.ExpandHistory
			}
			if period == "" {
				period = cfg.Sync.Period
			}

			keys, err := seriesFromArgs(cfg.Series(), args, market, interval)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, lg, ingest.Options{Period: period, ExpandHistory: expand})
			if err != nil {
				return err
			}
			defer a.Close()

			reports, syncErr := a.svc.SyncAll(cmd.Context(), keys)
			printReports(reports)
			return syncErr
		},
	}

	cmd.Flags().String("market", "tw", "Market of the given symbols (tw|us|etf|index|forex|crypto|futures)")
	cmd.Flags().String("interval", "1d", "Bar interval of the given symbols (1m|5m|15m|30m|1h|1d|1wk|1mo)")
	cmd.Flags().String("period", "", "Provider lookback, e.g. 7d, 1y (default: per-interval)")
	cmd.Flags().Bool("expand-history", false, "Also insert bars older than the stored range")
	return cmd
}

// newRecomputeCmd creates the indicator rebuild command
func newRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute [SYMBOL...]",
		Short: "Rebuild indicator columns and pattern signals from stored bars",
		Long: `Recompute indicators and candlestick signals without fetching.
By default the last sync.indicator_window bars are rewritten; --full rewrites the whole stored history.
Example: ohlcvsync recompute 2330 --market tw --interval 1d --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig(globalFlags(cmd))
			if err != nil {
				return err
			}
			market, _ := cmd.Flags().GetString("market")
			interval, _ := cmd.Flags().GetString("interval")
			full, _ := cmd.Flags().GetBool("full")

			keys, err := seriesFromArgs(cfg.Series(), args, market, interval)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, lg, ingest.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			reports := make([]model.SyncReport, 0, len(keys))
			for _, key := range keys {
				rep, err := a.svc.Recompute(cmd.Context(), key, full)
				reports = append(reports, rep)
				if err != nil {
					errs = append(errs, err)
				}
			}
			printReports(reports)
			return errors.Join(errs...)
		},
	}

	cmd.Flags().String("market", "tw", "Market of the given symbols")
	cmd.Flags().String("interval", "1d", "Bar interval of the given symbols")
	cmd.Flags().Bool("full", false, "Recompute over the whole stored history")
	return cmd
}

// newServeCmd creates the long-running scheduler command
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled sync passes and expose /metrics and /healthz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig(globalFlags(cmd))
			if err != nil {
				return err
			}
			runOnStart, _ := cmd.Flags().GetBool("run-on-start")

			keys := cfg.Series()
			if len(keys) == 0 {
				return fmt.Errorf("no series configured under markets")
			}

			a, err := newApp(cfg, lg, ingest.Options{Period: cfg.Sync.Period, ExpandHistory: cfg.Sync.ExpandHistory})
			if err != nil {
				return err
			}
			defer a.Close()
			a.health.SetSeriesTotal(len(keys))

			ctx := cmd.Context()
			srv := metrics.NewServer(cfg.Metrics.Addr, a.health, nil)
			srv.Start()

			a.health.StartLivenessChecker(ctx, a.redisClient(), a.store.DB(), 15*time.Second)

			sched := scheduler.New(ctx, a.svc, keys, a.prom, a.health, lg)
			sched.SetNotifier(a.notify)
			if err := sched.Register(cfg.Sync.Cron); err != nil {
				return err
			}
			for _, m := range marketsOf(keys) {
				lg.Info("market session", "status", markethours.StatusString(m, time.Now()))
			}
			sched.Start()
			if runOnStart {
				go sched.RunNow()
			}

			<-ctx.Done()
			lg.Info("shutdown signal received")

			shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(shutCtx)
			srv.Stop(shutCtx)
			return nil
		},
	}

	cmd.Flags().Bool("run-on-start", true, "Run a pass immediately instead of waiting for the first cron tick")
	return cmd
}

// newStatsCmd creates the store statistics command
func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored series for a market and interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(globalFlags(cmd))
			if err != nil {
				return err
			}
			market, _ := cmd.Flags().GetString("market")
			interval, _ := cmd.Flags().GetString("interval")
			m, iv := model.ParseMarket(market), model.ParseInterval(interval)

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			st, err := store.Stats(ctx, m, iv)
			if err != nil {
				return err
			}
			fmt.Printf("table %s: %d rows, %d symbols", st.Table, st.Rows, st.Symbols)
			if st.Rows > 0 {
				fmt.Printf(", %s .. %s", st.Earliest.Format(time.RFC3339), st.Latest.Format(time.RFC3339))
			}
			fmt.Println()

			symbols, err := store.Symbols(ctx, m, iv)
			if err != nil {
				return err
			}

			var reader *redisstore.Reader
			if cfg.Redis.Addr != "" {
				reader, err = redisstore.NewReader(redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				if err != nil {
					fmt.Fprintf(os.Stderr, "redis unavailable, skipping last-sync column: %v\n", err)
				} else {
					defer reader.Close()
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tROWS\tEARLIEST\tLATEST\tLAST SYNC")
			for _, sym := range symbols {
				key := model.SeriesKey{Market: m, Interval: iv, Symbol: sym}
				meta, err := store.Probe(ctx, key)
				if err != nil || meta == nil {
					continue
				}
				last := "-"
				if reader != nil {
					if rep, err := reader.LatestReport(ctx, key); err == nil && rep != nil {
						last = fmt.Sprintf("%s %s (%s)", rep.At.Format(time.RFC3339), rep.Mode, rep.Reason)
					}
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", sym, meta.RecordCount,
					meta.Earliest.Format("2006-01-02 15:04"), meta.Latest.Format("2006-01-02 15:04"), last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("market", "tw", "Market")
	cmd.Flags().String("interval", "1d", "Bar interval")
	return cmd
}

// seriesFromArgs builds keys for the given symbols, or returns the
// configured series when none are given.
func seriesFromArgs(configured []model.SeriesKey, args []string, market, interval string) ([]model.SeriesKey, error) {
	keys := configured
	if len(args) > 0 {
		m, iv := model.ParseMarket(market), model.ParseInterval(interval)
		keys = make([]model.SeriesKey, 0, len(args))
		for _, sym := range args {
			keys = append(keys, model.SeriesKey{Market: m, Interval: iv, Symbol: sym})
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no series given: pass symbols or configure markets")
	}
	return keys, nil
}

func printReports(reports []model.SyncReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tMODE\tFETCHED\tINSERTED\tUPDATED\tFAILED\tINDICATORS\tDETAIL")
	for _, r := range reports {
		detail := r.Reason
		if r.Err != "" {
			detail = "error: " + r.Err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n", r.Key, orDash(r.Mode), r.Fetched,
			r.Result.Inserted, r.Result.Updated, r.Result.Failed, r.IndicatorRows, detail)
	}
	w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func marketsOf(keys []model.SeriesKey) []model.Market {
	seen := make(map[model.Market]bool)
	var out []model.Market
	for _, k := range keys {
		if !seen[k.Market] {
			seen[k.Market] = true
			out = append(out, k.Market)
		}
	}
	return out
}
