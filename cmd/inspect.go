package cmd

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/oft-to-eml/eml"
	"github.com/dhcgn/oft-to-eml/filter"
	"github.com/dhcgn/oft-to-eml/model"
	"github.com/dhcgn/oft-to-eml/oft"
	"github.com/dhcgn/oft-to-eml/stats"
)

var (
	reportDir      string
	topN           int
	inspectInclude []string
	inspectExclude []string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <template>...",
	Short: "Show extracted fields and attachments without converting",
	Long: `inspect extracts each given template (directories are walked for .oft
and .msg files) and prints its header fields and attachments, including
the content type detected from the attachment payload. With more than
one template the sender, recipient and subject frequencies are
summarized as well.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

// Header categories tracked across inspected templates.
var trackedFields = []string{"From", "To", "Subject", "Attachment-Type"}

func init() {
	inspectCmd.Flags().StringVarP(&reportDir, "report-dir", "o", "", "Write CSV frequency reports into this directory")
	inspectCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in the frequency tables")
	inspectCmd.Flags().StringArrayVar(&inspectInclude, "include", nil, "Regex allow-list applied to extracted records (mutually exclusive with --exclude)")
	inspectCmd.Flags().StringArrayVar(&inspectExclude, "exclude", nil, "Regex block-list applied to extracted records (mutually exclusive with --include)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	paths, err := expandTemplatePaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no template files found")
	}

	f, err := filter.New(filter.Options{Include: inspectInclude, Exclude: inspectExclude})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	counter := make(map[string]map[string]int)
	for _, field := range trackedFields {
		counter[field] = make(map[string]int)
	}

	extractor := oft.NewFileExtractor(slog.Default())
	inspected, skipped, failed := 0, 0, 0

	for _, path := range paths {
		rec, err := extractor.Extract(cmd.Context(), path)
		if err != nil {
			failed++
			pterm.Error.Printf("%s: %v\n", path, err)
			continue
		}
		if !f.Allows(rec) {
			skipped++
			continue
		}
		inspected++
		printRecord(path, rec)
		countRecord(counter, rec)
	}

	if len(paths) > 1 {
		pterm.DefaultSection.Println("Frequencies")
		fmt.Printf("Inspected %d templates (skipped %d by filters, %d failed)\n\n", inspected, skipped, failed)
		for _, field := range trackedFields {
			fmt.Printf("Top %d %s:\n", topN, field)
			stats.PrettyPrintTop(counter[field], topN)
			fmt.Println()
		}
	}

	if reportDir != "" {
		if err := saveCSVReports(counter, trackedFields, reportDir, 1000); err != nil {
			return fmt.Errorf("save CSV reports: %w", err)
		}
		fmt.Printf("Reports saved to directory: %s\n", reportDir)
	}

	if inspected == 0 && failed > 0 {
		return fmt.Errorf("no template could be inspected")
	}
	return nil
}

// expandTemplatePaths resolves the command arguments: directories are
// walked for template files, explicit files are taken as given.
func expandTemplatePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && oft.IsTemplate(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func printRecord(path string, rec *model.Record) {
	pterm.DefaultSection.Println(path)
	pterm.Info.Printf("From: %s\n", orNA(rec.Sender))
	pterm.Info.Printf("To: %s\n", orNA(rec.To))
	pterm.Info.Printf("Cc: %s\n", orNA(rec.Cc))
	pterm.Info.Printf("Subject: %s\n", orNA(rec.Subject))
	pterm.Info.Printf("Date: %s\n", orNA(displayDate(rec)))
	pterm.Info.Printf("Plain body: %d bytes, HTML body: %d bytes\n", len(rec.PlainBody), len(rec.HTMLBody))

	if len(rec.Attachments) == 0 {
		return
	}

	rows := pterm.TableData{{"Name", "Kind", "Detected type", "Content-ID", "Size"}}
	for _, att := range rec.Attachments {
		rows = append(rows, attachmentRow(att))
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		pterm.Error.Printf("render attachment table: %v\n", err)
	}
}

// attachmentRow classifies one attachment the way assembly will and
// pairs that with the content type sniffed from the payload, so
// mislabeled attachments stand out.
func attachmentRow(att model.Attachment) []string {
	part, ok := eml.ClassifyAttachment(att)
	if !ok {
		return []string{att.Filename(), "skipped (no data)", "-", "-", "0"}
	}
	cid := part.ContentID
	if cid == "" {
		cid = "-"
	}
	detected := mimetype.Detect(att.Data).String()
	return []string{part.Filename, string(part.Kind), detected, cid, strconv.Itoa(len(att.Data))}
}

func countRecord(counter map[string]map[string]int, rec *model.Record) {
	count := func(field, value string) {
		if value != "" {
			counter[field][value]++
		}
	}
	count("From", rec.Sender)
	count("To", rec.To)
	count("Subject", rec.Subject)
	for _, att := range rec.Attachments {
		if len(att.Data) == 0 {
			continue
		}
		count("Attachment-Type", mimetype.Detect(att.Data).String())
	}
}

func saveCSVReports(counter map[string]map[string]int, fields []string, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each tracked category to a separate file
	for _, field := range fields {
		counts := counter[field]

		filename := fmt.Sprintf("report_%s.csv", normalizeFieldName(field))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		// Sort by count descending
		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		// Write top N entries
		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeFieldName(field string) string {
	// Convert to lowercase and replace invalid filename chars
	name := strings.ToLower(field)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
