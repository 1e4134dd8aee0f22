package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/service"
)

type rootOptions struct {
	configPath string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "lawvec",
		Short:         "semantic retrieval over legal study material",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.json")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite file to use when no config is given (pseudo-vectors only)")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newIngestCmd(opts),
		newSearchCmd(opts),
		newCountCmd(opts),
		newQueryCmd(opts),
	)
	return rootCmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
	case opts.dbPath != "":
		cfg = config.Default(opts.dbPath)
	default:
		return nil, fmt.Errorf("--config or --db is required")
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Debug("config loaded",
		zap.String("config", opts.configPath),
		zap.String("storage", cfg.Storage.Type),
	)
	return cfg, nil
}

// withEngine runs fn with an engine built from the root flags and closes it afterwards.
func withEngine(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, cfg *config.Config, engine *service.Engine) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	engine, err := service.NewEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logutil.GetLogger(ctx).Warn("close engine failed", zap.Error(err))
		}
	}()
	return fn(ctx, cfg, engine)
}
