package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/oft-to-eml/config"
	"github.com/dhcgn/oft-to-eml/imap"
	"github.com/dhcgn/oft-to-eml/oft"
	"github.com/dhcgn/oft-to-eml/output"
	"github.com/dhcgn/oft-to-eml/progress"
	"github.com/dhcgn/oft-to-eml/runner"
	"github.com/dhcgn/oft-to-eml/stats"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Convert every template under a directory into one destination",
	Long: `batch scans --source-dir recursively for .oft and .msg files and
converts each into an EML document. Exactly one destination must be
selected: --out-dir, --mbox, --s3-bucket or --imap-host. Sources whose
content hash is already recorded in the conversion state are skipped,
so interrupted runs can be resumed.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	cobra.CheckErr(config.RegisterFlags(batchCmd))
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.Default()
	logger.Info("starting batch conversion",
		"source", cfg.SourceDir, "workers", cfg.Workers, "dryRun", cfg.DryRun)

	return runPipeline(cmd.Context(), cfg, logger)
}

func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	total, err := countTemplates(cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("scan source dir: %w", err)
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stopInterrupt := context.AfterFunc(ctx, func() {
		r.Interrupt(fmt.Errorf("batch interrupted: %w", context.Cause(ctx)))
	})
	defer stopInterrupt()

	stats.NewReporter(r, logger)
	bar := progress.New(total, cfg.LogLevel)
	progress.NewProgressReporter(r, bar, logger)

	if _, err := oft.NewProducer(cfg.SourceDir, oft.NewFileExtractor(logger), r, logger); err != nil {
		return fmt.Errorf("oft.NewProducer: %w", err)
	}

	if err := attachSink(ctx, cfg, r, logger); err != nil {
		return err
	}

	if err := r.Start(); err != nil {
		return err
	}
	bar.Stop()
	return nil
}

// attachSink registers the destination stage selected by the config.
// The IMAP uploader is its own stage; the other destinations share the
// Consumer and differ only in the Sink behind it.
func attachSink(ctx context.Context, cfg config.Config, r *runner.Runner, logger *slog.Logger) error {
	if cfg.IMAPHost != "" {
		opts := imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			TargetFolder:       cfg.TargetFolder,
			DryRun:             cfg.DryRun,
		}
		if _, err := imap.NewUploader(opts, r, logger); err != nil {
			return fmt.Errorf("imap.NewUploader: %w", err)
		}
		return nil
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if _, err := output.NewConsumer(r, sink); err != nil {
		return fmt.Errorf("output.NewConsumer: %w", err)
	}
	return nil
}

func newSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (output.Sink, error) {
	switch {
	case cfg.OutDir != "":
		return output.NewDirSink(cfg.OutDir, logger)
	case cfg.MboxPath != "":
		return output.NewMboxSink(cfg.MboxPath, logger)
	case cfg.S3Bucket != "":
		return output.NewS3Sink(ctx, output.S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		}, logger)
	default:
		return nil, fmt.Errorf("no destination configured")
	}
}

// countTemplates sizes the progress bar before the pipeline starts.
func countTemplates(dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && oft.IsTemplate(path) {
			total++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
