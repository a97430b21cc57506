package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	alarm "github.com/netresearch/go-alarm"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel overrides the level from the configuration file.
	logLevel string

	// cfg is the configuration loaded before any subcommand runs.
	cfg *alarm.Config
	// log is the logger built from cfg.
	log *zap.SugaredLogger

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "alarmsim",
		Short: "Drive the batched alarm scheduler with synthetic load.",
		Long: `Runs synthetic workloads against the alarm scheduler on the real clock
and reports how many wakeups and batches were needed.

Tolerances and pool settings come from the configuration file. If the default
file does not exist the built-in defaults are used.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			cfg = loaded

			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			log, err = newLogger(cfg.LogLevel)
			return err
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if log != nil {
				//nolint:errcheck // Nothing useful to do if stdout cannot be synced.
				log.Sync()
			}
		},
	}
)

// Execute runs the alarmsim CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", alarm.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(burstCmd, timeoutsCmd)
}

// loadConfig reads the configuration file. A missing file is only an error
// when the path was given explicitly.
func loadConfig(explicit bool) (*alarm.Config, error) {
	loaded, err := alarm.LoadConfig(configPath)
	if err == nil {
		return loaded, nil
	}

	if !explicit && errors.Is(err, fs.ErrNotExist) {
		defaults := alarm.DefaultConfig()
		return defaults, defaults.Validate()
	}

	return nil, err
}

// newLogger creates a console logger writing to stdout at the given level.
func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	//nolint:exhaustruct // Default encoder configuration values are fine.
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalColorLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: ", ",
	})

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl)

	return zap.New(core).Sugar(), nil
}

// newManager creates a Manager from cfg that logs through log.
func newManager(opts ...alarm.Option) *alarm.Manager {
	opts = append(cfg.Options(), append(opts, alarm.WithLogger(alarm.NewZapLogger(log)))...)
	return alarm.New(opts...)
}

// reportStats logs the Manager's counters.
func reportStats(m *alarm.Manager) {
	s := m.Stats()
	log.Infow("scheduler stats",
		"wakeups", s.Wakeups,
		"batches", s.Batches,
		"fired", s.Fired,
		"discarded", s.Discarded,
		"listener_panics", s.ListenerPanics,
		"pool_hits", s.Pool.Hits,
		"pool_misses", s.Pool.Misses,
	)
}
