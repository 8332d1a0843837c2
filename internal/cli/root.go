// Package cli defines the chaptercrawler command tree.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/app"
	"github.com/JakeFAU/chapter-crawler/internal/config"
	"github.com/JakeFAU/chapter-crawler/internal/logging"
)

// Service is the slice of *app.App the commands use.
type Service interface {
	Bootstrap(ctx context.Context) (string, error)
	Download(ctx context.Context, workIDs []int64, untrackCompleted bool) ([]app.Result, error)
	Update(ctx context.Context) ([]app.Result, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// Factory builds the Service for one command invocation.
type Factory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Service, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (Service, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

type commandContext struct {
	configPath string
	logLevel   string
	factory    Factory

	logger  *zap.Logger
	service Service
}

// NewRootCommand returns the chaptercrawler root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultFactory)
}

func newRootCommand(factory Factory) *cobra.Command {
	cc := &commandContext{factory: factory}

	root := &cobra.Command{
		Use:   "chaptercrawler",
		Short: "Download serialized novels chapter by chapter",
		Long: `chaptercrawler downloads every chapter of a work from the novel host,
decoding obfuscated glyphs and checkpointing progress so interrupted
downloads resume where they stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&cc.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newDownloadCommand(cc),
		newUpdateCommand(cc),
		newServeCommand(cc),
		newSessionCommand(cc),
	)
	return root
}

// withService builds the Service, runs fn and always closes it, so checkpoints
// and progress are flushed even when fn fails.
func (cc *commandContext) withService(cmd *cobra.Command, fn func(context.Context, Service) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cc.init(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cc.close(context.WithoutCancel(ctx)))
	}()
	return fn(ctx, cc.service)
}

func (cc *commandContext) init(ctx context.Context) error {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return err
	}
	if cc.logLevel != "" {
		cfg.Logging.Level = cc.logLevel
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	cc.logger = logger

	svc, err := cc.factory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	cc.service = svc
	return nil
}

func (cc *commandContext) close(ctx context.Context) error {
	var err error
	if cc.service != nil {
		err = cc.service.Close(ctx)
		cc.service = nil
	}
	if cc.logger != nil {
		// Sync on a terminal returns EINVAL; nothing useful to report.
		_ = cc.logger.Sync()
	}
	return err
}

// incompleteError reports works that did not finish cleanly.
func incompleteError(results []app.Result) error {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d works did not finish cleanly", failed, len(results))
}

// IsCanceled reports whether err came from an interrupted run.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
