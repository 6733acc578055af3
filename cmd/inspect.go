package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/ost-export/filter"
	"github.com/dhcgn/ost-export/mbox"
	"github.com/dhcgn/ost-export/stats"
)

var headersToTrack = []string{"From", "To", "Subject"}

type inspectOptions struct {
	reportDir     string
	topN          int
	includeFolder []string
	excludeFolder []string
}

// Report holds what inspect found below an export directory.
type Report struct {
	Folders  map[string]int
	Headers  map[string]map[string]int
	Messages int
	Skipped  int
}

// NewInspectCommand returns the command that summarizes an export directory.
func NewInspectCommand() *cobra.Command {
	var opts inspectOptions
	cmd := &cobra.Command{
		Use:   "inspect <output-dir>",
		Short: "Count exported messages per folder and show the most frequent headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filter.New(filter.Options{IncludeFolder: opts.includeFolder, ExcludeFolder: opts.excludeFolder})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}
			cmd.SilenceUsage = true

			report, err := Inspect(args[0], f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found %d messages in %d folders (%d unreadable)\n\n", report.Messages, len(report.Folders), report.Skipped)
			fmt.Fprintf(out, "Top %d folders:\n", opts.topN)
			stats.PrettyPrintTop(report.Folders, opts.topN)
			for _, header := range headersToTrack {
				fmt.Fprintf(out, "\nTop %d %s:\n", opts.topN, header)
				stats.PrettyPrintTop(report.Headers[header], opts.topN)
			}

			if opts.reportDir != "" {
				if err := saveCSVReports(report, opts.reportDir, 1000); err != nil {
					return fmt.Errorf("error saving CSV reports: %w", err)
				}
				fmt.Fprintf(out, "\nReports saved to directory: %s\n", opts.reportDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.reportDir, "report-dir", "o", "", "Write CSV reports to this directory")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display")
	cmd.Flags().StringArrayVar(&opts.includeFolder, "include-folder", nil, "Regex allow-list applied to folder names (mutually exclusive with --exclude-folder)")
	cmd.Flags().StringArrayVar(&opts.excludeFolder, "exclude-folder", nil, "Regex block-list applied to folder names (mutually exclusive with --include-folder)")
	return cmd
}

// Inspect walks dir and counts messages of *.mbox files and of directories
// holding *.eml files. Folder keys are slash separated paths relative to dir,
// without the .mbox extension.
func Inspect(dir string, f *filter.Filter) (*Report, error) {
	report := &Report{
		Folders: make(map[string]int),
		Headers: make(map[string]map[string]int),
	}
	for _, h := range headersToTrack {
		report.Headers[h] = make(map[string]int)
	}
	count := func(folder string, h mail.Header) {
		report.Messages++
		report.Folders[folder]++
		for _, name := range headersToTrack {
			if v := h.Get(name); v != "" {
				report.Headers[name][v]++
			}
		}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch strings.ToLower(filepath.Ext(path)) {
		case ".mbox":
			folder := strings.TrimSuffix(rel, filepath.Ext(rel))
			if !f.Allows(folder, "") {
				return nil
			}
			return mbox.Read(path, func(m *mbox.MboxMessage) error {
				count(folder, m.Headers)
				return nil
			}, func(int, error) { report.Skipped++ })
		case ".eml":
			folder := filepath.ToSlash(filepath.Dir(rel))
			if !f.Allows(folder, "") {
				return nil
			}
			h, err := readHeader(path)
			if err != nil {
				report.Skipped++
				return nil
			}
			count(folder, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", dir, err)
	}
	return report, nil
}

func readHeader(path string) (mail.Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	msg, err := mail.ReadMessage(file)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, msg.Body)
	return msg.Header, nil
}

func saveCSVReports(report *Report, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tables := map[string]map[string]int{"folder": report.Folders}
	for _, header := range headersToTrack {
		tables[normalizeHeaderName(header)] = report.Headers[header]
	}

	for name, counts := range tables {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", name))
		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}
		for _, p := range stats.Top(counts, limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
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

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
