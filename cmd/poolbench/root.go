package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jasonkayzk/sqlpool/config"
	"github.com/jasonkayzk/sqlpool/pooled"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type workload struct {
	workers    int
	iterations int
	query      string
	hold       time.Duration
}

func newRootCmd() (*cobra.Command, error) {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "poolbench",
		Short: "Run a concurrent workload against a pooled data source and print its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := run(cmd.Context(), v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), stats)
			return err
		},
		SilenceUsage: true,
	}

	registerFlags(cmd.Flags())
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix("POOLBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd, nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "pool configuration file (.toml, .yaml)")
	fs.String("driver", "", "database/sql driver: mysql, postgres or sqlite3")
	fs.String("url", "", "connection url or dsn")
	fs.String("username", "", "connection username")
	fs.String("password", "", "connection password")
	fs.Int("max-active", 0, "override pool max active connections")
	fs.Int("max-idle", -1, "override pool max idle connections")
	fs.Int("workers", 8, "concurrent workers")
	fs.Int("iterations", 100, "statements each worker runs")
	fs.String("query", "SELECT 1", "statement each iteration executes")
	fs.Duration("hold", 0, "how long a worker keeps its connection after the statement")
	fs.String("log-level", "info", "log level")
}

func run(ctx context.Context, v *viper.Viper) (pooled.Stats, error) {
	level, err := log.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return pooled.Stats{}, err
	}
	log.SetLevel(level)

	cfg, err := config.Read(v.GetString("config"))
	if err != nil {
		return pooled.Stats{}, err
	}
	applyFlags(cfg, v)
	if err := cfg.Validate(); err != nil {
		return pooled.Stats{}, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := cfg.Options(cfg.Factory())
	opts.Logger = log.StandardLogger()
	pool, err := pooled.New(opts)
	if err != nil {
		return pooled.Stats{}, err
	}
	defer pool.Close()

	w := workload{
		workers:    v.GetInt("workers"),
		iterations: v.GetInt("iterations"),
		query:      v.GetString("query"),
		hold:       v.GetDuration("hold"),
	}
	start := time.Now()
	if err := runWorkload(ctx, pool, w); err != nil {
		return pool.State(), err
	}

	stats := pool.State()
	log.WithFields(log.Fields{
		"driver":   cfg.Driver,
		"workers":  w.workers,
		"elapsed":  time.Since(start),
		"requests": stats.RequestCount,
	}).Info("workload finished")
	return stats, nil
}

func applyFlags(cfg *config.File, v *viper.Viper) {
	if s := v.GetString("driver"); s != "" {
		cfg.Driver = s
	}
	if s := v.GetString("url"); s != "" {
		cfg.URL = s
	}
	if s := v.GetString("username"); s != "" {
		cfg.Username = s
	}
	if s := v.GetString("password"); s != "" {
		cfg.Password = s
	}
	if n := v.GetInt("max-active"); n > 0 {
		cfg.Pool.MaxActive = n
	}
	if n := v.GetInt("max-idle"); n >= 0 {
		cfg.Pool.MaxIdle = n
	}
}

func runWorkload(ctx context.Context, ds pooled.DataSource, w workload) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for j := 0; j < w.iterations; j++ {
				if err := runOnce(ctx, ds, w); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func runOnce(ctx context.Context, ds pooled.DataSource, w workload) error {
	c, err := ds.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Exec(ctx, w.query); err != nil {
		return fmt.Errorf("exec %q: %w", w.query, err)
	}
	if w.hold > 0 {
		select {
		case <-time.After(w.hold):
		case <-ctx.Done():
		}
	}
	return nil
}
