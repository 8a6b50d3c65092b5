// Package cmd implements the oft-to-eml command tree: the root command
// converts one template file, batch drives the directory pipeline and
// inspect shows extracted records without converting them.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/oft-to-eml/config"
	"github.com/dhcgn/oft-to-eml/eml"
	"github.com/dhcgn/oft-to-eml/model"
	"github.com/dhcgn/oft-to-eml/oft"
)

var forceOverwrite bool

var rootCmd = &cobra.Command{
	Use:   "oft-to-eml <input.oft> [output.eml]",
	Short: "Convert Outlook template files to standard EML documents",
	Long: `oft-to-eml converts Outlook template and message files (.oft, .msg)
into standard RFC 5322 EML documents.

Called with a single template it writes one .eml file, named after the
input unless an output path is given. See "oft-to-eml batch" for
converting whole directories into a directory of .eml files, an mbox,
an S3 bucket or an IMAP folder.`,
	Args:              cobra.RangeArgs(1, 2),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		output := ""
		if len(args) > 1 {
			output = args[1]
		}
		return convertOne(cmd.Context(), args[0], output)
	},
}

func init() {
	config.RegisterLogFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().BoolVarP(&forceOverwrite, "force", "f", false, "Overwrite the output file if it already exists")
}

// logCleanup closes the --log-file writer once the command finished.
var logCleanup = func() error { return nil }

// Execute runs the command tree. Errors print once, to stderr, and the
// process exits non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if cerr := logCleanup(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging wires --log-level and --log-file into the default slog
// logger before any command runs. Diagnostics go to stderr so they do
// not mix with command output on stdout.
func setupLogging(cmd *cobra.Command, _ []string) error {
	levelName, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	logFile, err := cmd.Flags().GetString("log-file")
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	switch strings.ToLower(levelName) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid --log-level: %s", levelName)
	}

	out := io.Writer(os.Stderr)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logCleanup = file.Close
		out = io.MultiWriter(os.Stderr, file)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

func convertOne(ctx context.Context, input, output string) error {
	logger := slog.Default()

	if output == "" {
		output = eml.OutputName(input)
	}

	if !forceOverwrite {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output %s already exists, use --force to overwrite", output)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("check output %s: %w", output, err)
		}
	}

	pterm.Info.Printf("Converting %s -> %s\n", input, output)

	rec, err := oft.NewFileExtractor(logger).Extract(ctx, input)
	if err != nil {
		return fmt.Errorf("read template %s: %w", input, err)
	}

	doc, err := eml.Assemble(rec)
	if err != nil {
		return fmt.Errorf("assemble %s: %w", input, err)
	}
	raw, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", input, err)
	}

	if err := writeDocument(output, raw); err != nil {
		return err
	}

	pterm.Success.Printf("Wrote %s (%d bytes)\n", output, len(raw))
	printMessageInfo(rec, doc)
	return nil
}

// writeDocument writes the serialized document through a temp file in
// the target directory, so an aborted run never leaves a truncated
// .eml behind.
func writeDocument(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".eml-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func printMessageInfo(rec *model.Record, doc *eml.Document) {
	pterm.DefaultSection.Println("Message Info")
	pterm.Info.Printf("From: %s\n", orNA(rec.Sender))
	pterm.Info.Printf("To: %s\n", orNA(rec.To))
	pterm.Info.Printf("Subject: %s\n", orNA(rec.Subject))
	pterm.Info.Printf("Date: %s\n", orNA(displayDate(rec)))
	pterm.Info.Printf("Plain body: %d bytes\n", len(rec.PlainBody))
	pterm.Info.Printf("HTML body: %d bytes\n", len(rec.HTMLBody))
	pterm.Info.Printf("Attachment parts: %d (of %d attachments)\n", len(doc.Parts()), len(rec.Attachments))
}

func orNA(value string) string {
	if value == "" {
		return "N/A"
	}
	return value
}

// displayDate renders the record date the way the Date header will:
// RFC 5322 when parsed, the verbatim source text otherwise.
func displayDate(rec *model.Record) string {
	if !rec.Date.IsZero() {
		return rec.Date.Format(time.RFC1123Z)
	}
	return rec.RawDate
}
