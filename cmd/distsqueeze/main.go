package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/frederic-klein/distsqueeze/internal/catalog"
	"github.com/frederic-klein/distsqueeze/internal/codec"
	"github.com/frederic-klein/distsqueeze/internal/config"
	"github.com/frederic-klein/distsqueeze/internal/downloader"
	"github.com/frederic-klein/distsqueeze/internal/logging"
	"github.com/frederic-klein/distsqueeze/internal/metrics"
	"github.com/frederic-klein/distsqueeze/internal/mirror"
	"github.com/frederic-klein/distsqueeze/internal/pipeline"
	"github.com/frederic-klein/distsqueeze/internal/report"
	"github.com/frederic-klein/distsqueeze/internal/transform"
)

var (
	configPath string
	verbose    bool
	flagValues = config.Default()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "distsqueeze",
		Short:         "Find distfiles that another compression codec would shrink",
		Long:          "distsqueeze downloads compressed patches referenced by a package catalog, re-encodes them under every configured codec and reports files where an alternative codec beats the published one.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&flagValues.LogFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&flagValues.Catalog, "catalog", "", "YAML catalog file")
	rootCmd.PersistentFlags().StringVar(&flagValues.Mirrors, "mirrors", "", "thirdpartymirrors file")
	rootCmd.PersistentFlags().StringVar(&flagValues.Pattern, "pattern", flagValues.Pattern, "Regular expression selecting candidate files")
	rootCmd.PersistentFlags().StringVar(&flagValues.Match, "match", flagValues.Match, "Test the pattern against \"uri\" or \"name\"")
	rootCmd.PersistentFlags().StringSliceVar(&flagValues.Denylist, "denylist", flagValues.Denylist, "Filenames never fetched")
	rootCmd.PersistentFlags().StringVar(&flagValues.FallbackBase, "fallback", flagValues.FallbackBase, "Base URL tried after all mirrors")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Fetch, re-encode and report",
		RunE:  runScan,
	}
	scanCmd.Flags().StringVarP(&flagValues.WorkDir, "workdir", "d", flagValues.WorkDir, "Working directory")
	scanCmd.Flags().StringSliceVar(&flagValues.Codecs, "codecs", flagValues.Codecs, "Codec extensions to compare, original first if present")
	scanCmd.Flags().StringVar(&flagValues.Backend, "backend", flagValues.Backend, "Codec backend: exec or native")
	scanCmd.Flags().IntVarP(&flagValues.Workers, "workers", "w", flagValues.Workers, "Parallel workers")
	scanCmd.Flags().DurationVar(&flagValues.FetchTimeout, "fetch-timeout", flagValues.FetchTimeout, "Timeout per download attempt (0 disables)")
	scanCmd.Flags().DurationVar(&flagValues.Deadline, "deadline", flagValues.Deadline, "Overall deadline (0 disables)")
	scanCmd.Flags().StringVar(&flagValues.Compare, "compare", flagValues.Compare, "Comparison: first (second codec only) or best (smallest alternative)")
	scanCmd.Flags().StringVar(&flagValues.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	expandCmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the filtered, mirror-expanded fetch maps without downloading",
		RunE:  runExpand,
	}

	rootCmd.AddCommand(scanCmd, expandCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file and explicitly set flags over the
// defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("log-file", func() { cfg.LogFile = flagValues.LogFile })
	set("catalog", func() { cfg.Catalog = flagValues.Catalog })
	set("mirrors", func() { cfg.Mirrors = flagValues.Mirrors })
	set("pattern", func() { cfg.Pattern = flagValues.Pattern })
	set("match", func() { cfg.Match = flagValues.Match })
	set("denylist", func() { cfg.Denylist = flagValues.Denylist })
	set("fallback", func() { cfg.FallbackBase = flagValues.FallbackBase })
	set("workdir", func() { cfg.WorkDir = flagValues.WorkDir })
	set("codecs", func() { cfg.Codecs = flagValues.Codecs })
	set("backend", func() { cfg.Backend = flagValues.Backend })
	set("workers", func() { cfg.Workers = flagValues.Workers })
	set("fetch-timeout", func() { cfg.FetchTimeout = flagValues.FetchTimeout })
	set("deadline", func() { cfg.Deadline = flagValues.Deadline })
	set("compare", func() { cfg.Compare = flagValues.Compare })
	set("metrics-addr", func() { cfg.MetricsAddr = flagValues.MetricsAddr })

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openCatalog loads the catalog and the merged mirror registry.
func openCatalog(cfg config.Config) (catalog.Source, mirror.Registry, error) {
	src, err := catalog.LoadFile(cfg.Catalog)
	if err != nil {
		return nil, nil, err
	}

	reg := make(mirror.Registry)
	reg.Merge(src.Mirrors())
	if cfg.Mirrors != "" {
		extra, err := mirror.LoadThirdPartyMirrors(cfg.Mirrors)
		if err != nil {
			return nil, nil, err
		}
		reg.Merge(extra)
	}
	return src, reg, nil
}

func newRunner(cfg config.Config, src catalog.Source, reg mirror.Registry, codecs *codec.Registry, logger *zap.Logger, m *metrics.Metrics) (*pipeline.Runner, error) {
	sel, err := catalog.NewSelector(cfg.Pattern, cfg.Match == config.MatchName, cfg.Denylist)
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(
		src,
		sel,
		mirror.NewResolver(reg, cfg.FallbackBase, nil),
		downloader.NewDownloader(cfg.FetchTimeout, logger, m),
		transform.NewEngine(codecs, cfg.Codecs, logger, m),
		pipeline.Options{
			WorkDir: cfg.WorkDir,
			Workers: cfg.Workers,
			Logger:  logger,
			Metrics: m,
		},
	), nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Verbose: verbose, File: cfg.LogFile})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		m.Serve(ctx, cfg.MetricsAddr, logger)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("creating workdir: %w", err)
	}

	codecs, err := codec.NewRegistry(codec.Backend(cfg.Backend))
	if err != nil {
		return err
	}
	if err := codecs.Validate(cfg.Codecs); err != nil {
		return fmt.Errorf("checking codecs: %w", err)
	}

	src, reg, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, src, reg, codecs, logger, m)
	if err != nil {
		return err
	}

	logger.Info("scanning",
		zap.String("catalog", cfg.Catalog),
		zap.String("workdir", cfg.WorkDir),
		zap.Strings("codecs", cfg.Codecs),
		zap.Int("workers", cfg.Workers))

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	lines := report.Lines(res.Records, report.Mode(cfg.Compare))
	for _, line := range lines {
		logger.Debug("smaller alternative",
			zap.String("stem", line.Stem),
			zap.String("codec", line.AltCodec),
			zap.Int64("saved", line.Size-line.AltSize))
	}
	if err := report.NewEmitter(os.Stdout).Emit(lines); err != nil {
		return err
	}

	logger.Info("scan finished",
		zap.Int("files", res.Planned),
		zap.Int("fetched", res.Fetched),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
		zap.Int("reported", len(lines)))
	if ctx.Err() != nil {
		logger.Warn("scan stopped early", zap.Error(ctx.Err()))
	}
	return nil
}

func runExpand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Verbose: verbose, File: cfg.LogFile})
	defer logger.Sync()

	src, reg, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	// nothing is fetched or encoded, so tool availability is not checked
	codecs, err := codec.NewRegistry(codec.Backend(cfg.Backend))
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, src, reg, codecs, logger, nil)
	if err != nil {
		return err
	}

	pkgs, err := src.ListPackages()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, pkg := range pkgs {
		versions, err := src.ListVersions(pkg)
		if err != nil {
			logger.Warn("listing versions failed", zap.String("package", string(pkg)), zap.Error(err))
			continue
		}
		for _, atom := range versions {
			fm, err := runner.Plan(atom)
			if err != nil {
				logger.Warn("reading fetch map failed", zap.String("atom", string(atom)), zap.Error(err))
				continue
			}
			if len(fm) == 0 {
				continue
			}
			fmt.Fprintln(out, atom)
			for _, name := range fm.Names() {
				fmt.Fprintf(out, "\t%s\n", name)
				for _, uri := range fm[name] {
					fmt.Fprintf(out, "\t\t%s\n", uri)
				}
			}
		}
	}
	return nil
}
