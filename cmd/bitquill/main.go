// Command bitquill is the tamper-evident writing tool: a terminal editor
// whose paragraphs are bound to a VDF clock and organized into a Merkle
// tree, plus offline verification and export of saved documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ciphernom/bitquill"
	"github.com/ciphernom/bitquill/internal/config"
	"github.com/ciphernom/bitquill/internal/document"
	"github.com/ciphernom/bitquill/internal/persist"
	"github.com/ciphernom/bitquill/internal/recent"
	"github.com/ciphernom/bitquill/internal/telemetry"
	"github.com/ciphernom/bitquill/internal/verify"
	"github.com/ciphernom/bitquill/tui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bitquill",
		Short:         "Tamper-evident writing with a verifiable delay clock",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		editCommand(),
		verifyCommand(),
		inspectCommand(),
		exportCommand(),
		recentCommand(),
	)
	return root
}

// loadEnv wires the shared environment: .env file, configuration, logging,
// telemetry. The returned shutdown flushes telemetry exporters.
func loadEnv(logTo *os.File) (config.Config, *slog.Logger, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	out := logTo
	if out == nil {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("telemetry: %w", err)
	}

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return cfg, logger, shutdown, nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func editCommand() *cobra.Command {
	var title, author string
	var freshModulus bool

	cmd := &cobra.Command{
		Use:   "edit [file.bq]",
		Short: "Open the terminal editor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The TUI owns stdout; route logs to a file under the config dir.
			logFile, err := openLogFile()
			if err != nil {
				return err
			}
			defer logFile.Close()

			cfg, logger, shutdown, err := loadEnv(logFile)
			if err != nil {
				return err
			}
			defer shutdown()

			opts := []bitquill.Option{
				bitquill.WithConfig(cfg),
				bitquill.WithLogger(logger),
			}
			if title != "" {
				opts = append(opts, bitquill.WithTitle(title))
			}
			if author != "" {
				opts = append(opts, bitquill.WithAuthor(author))
			}
			if freshModulus {
				opts = append(opts, bitquill.WithFreshModulus())
			}

			app, err := bitquill.New(opts...)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			path := ""
			if len(args) == 1 {
				path = args[0]
				if err := persist.CheckPath(path, persist.ExtDocument); err != nil {
					return err
				}
				if _, statErr := os.Stat(path); statErr == nil {
					if err := app.Load(path); err != nil {
						return err
					}
				}
				touchRecent(cfg, logger, path)
			}

			return tui.Run(app, path)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "document title for a new file")
	cmd.Flags().StringVar(&author, "author", "", "document author (default: local username)")
	cmd.Flags().BoolVar(&freshModulus, "fresh-modulus", false, "generate a private RSA modulus instead of using the RSA-2048 challenge modulus")
	return cmd
}

func verifyCommand() *cobra.Command {
	var levelName string

	cmd := &cobra.Command{
		Use:   "verify <file.bq>",
		Short: "Verify a document's integrity offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, shutdown, err := loadEnv(nil)
			if err != nil {
				return err
			}
			defer shutdown()

			level, err := verify.ParseLevel(levelName)
			if err != nil {
				return err
			}

			doc, err := loadDocument(args[0], cfg, logger)
			if err != nil {
				return err
			}

			report := verify.New(cfg, logger).Verify(doc, level)
			printReport(cmd, report)
			if !report.Valid {
				return fmt.Errorf("verification failed at level %s", level)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&levelName, "level", "standard", "verification level: basic, standard, thorough, or forensic")
	return cmd
}

func inspectCommand() *cobra.Command {
	var showTree, showPatterns bool

	cmd := &cobra.Command{
		Use:   "inspect <file.bq>",
		Short: "Print a document's metadata, paragraphs, and structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, shutdown, err := loadEnv(nil)
			if err != nil {
				return err
			}
			defer shutdown()

			doc, err := loadDocument(args[0], cfg, logger)
			if err != nil {
				return err
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			meta := doc.Metadata()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:     %s\n", meta.Title)
			fmt.Fprintf(out, "Author:    %s\n", meta.Author)
			fmt.Fprintf(out, "Created:   %s (%s)\n", meta.Created.Format(time.RFC1123), humanize.Time(meta.Created))
			fmt.Fprintf(out, "Modified:  %s (%s)\n", meta.LastModified.Format(time.RFC1123), humanize.Time(meta.LastModified))
			fmt.Fprintf(out, "Size:      %s\n", humanize.Bytes(uint64(info.Size())))
			fmt.Fprintf(out, "Leaves:    %d\n", len(doc.Leaves()))
			fmt.Fprintf(out, "Ticks:     %d retained\n", doc.TickCount())
			fmt.Fprintf(out, "Difficulty: %s iterations\n", humanize.Comma(int64(doc.CurrentIterations())))
			fmt.Fprintf(out, "Root:      %s\n", doc.RootHash())

			fmt.Fprintln(out)
			for _, line := range doc.LeafHistory() {
				fmt.Fprintln(out, line)
			}

			if showTree {
				fmt.Fprintln(out)
				for _, line := range doc.TreeStructure() {
					fmt.Fprintln(out, line)
				}
			}

			if showPatterns {
				fmt.Fprintln(out)
				result := doc.AnalyzeWritingPatterns()
				fmt.Fprintf(out, "Average interval: %ds (stddev %.1f)\n", result.AverageInterval, result.Deviation)
				if len(result.Anomalies) == 0 {
					fmt.Fprintln(out, "No writing-pattern anomalies detected")
				}
				for _, a := range result.Anomalies {
					fmt.Fprintf(out, "Paragraph #%d: %s (confidence %.2f)\n", a.LeafNumber, a.Description, a.Confidence)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTree, "tree", false, "print the merkle tree structure")
	cmd.Flags().BoolVar(&showPatterns, "patterns", false, "print writing-pattern analysis")
	return cmd
}

func exportCommand() *cobra.Command {
	var chainPath, proofPath string

	cmd := &cobra.Command{
		Use:   "export <file.bq>",
		Short: "Export chain data (.bqc) or a compact verification proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chainPath == "" && proofPath == "" {
				return fmt.Errorf("nothing to do: pass --chain and/or --proof")
			}

			cfg, logger, shutdown, err := loadEnv(nil)
			if err != nil {
				return err
			}
			defer shutdown()

			doc, err := loadDocument(args[0], cfg, logger)
			if err != nil {
				return err
			}

			if chainPath != "" {
				if err := persist.CheckPath(chainPath, persist.ExtChain); err != nil {
					return err
				}
				if err := persist.Save(chainPath, persist.SnapshotChain(doc)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "chain data written to %s\n", chainPath)
			}

			if proofPath != "" {
				proof := persist.BuildVerificationProof(doc, 20)
				if err := persist.SaveVerificationProof(proofPath, proof); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "verification proof written to %s (%d samples)\n", proofPath, len(proof.Samples))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chainPath, "chain", "", "write full chain data to this .bqc path")
	cmd.Flags().StringVar(&proofPath, "proof", "", "write a compact verification proof to this path")
	return cmd
}

func recentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List recently opened documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, shutdown, err := loadEnv(nil)
			if err != nil {
				return err
			}
			defer shutdown()

			store, err := openRecent(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recent documents")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-50s %s\n", e.Path, humanize.Time(e.LastOpened))
			}
			return nil
		},
	}
}

// loadDocument reads and restores a .bq file for the offline commands; no
// clock is started.
func loadDocument(path string, cfg config.Config, logger *slog.Logger) (*document.Document, error) {
	if err := persist.CheckPath(path, persist.ExtDocument); err != nil {
		return nil, err
	}
	file, err := persist.LoadFile(path)
	if err != nil {
		return nil, err
	}
	doc := document.New(cfg, nil, logger)
	if err := persist.Restore(doc, file, cfg, logger); err != nil {
		return nil, err
	}
	return doc, nil
}

func printReport(cmd *cobra.Command, report verify.Report) {
	out := cmd.OutOrStdout()

	verdict := "PASS"
	if !report.Valid {
		verdict = "FAIL"
	}
	ok, warnings, fatals := report.Counts()
	fmt.Fprintf(out, "%s (%s): %d checks ok, %d warnings, %d fatal\n",
		verdict, report.Level, ok, warnings, fatals)

	for _, d := range report.Details {
		if d.Severity == verify.OK {
			continue
		}
		fmt.Fprintf(out, "  [%s] %s\n", d.Severity, d.Description)
	}
}

// touchRecent records a document open; failures only log.
func touchRecent(cfg config.Config, logger *slog.Logger, path string) {
	store, err := openRecent(cfg)
	if err != nil {
		logger.Warn("recent-files registry unavailable", "error", err)
		return
	}
	defer store.Close()
	if err := store.Touch(path); err != nil {
		logger.Warn("recent-files update failed", "error", err)
	}
}

func openRecent(cfg config.Config) (*recent.Store, error) {
	path, err := recent.DefaultPath()
	if err != nil {
		return nil, err
	}
	return recent.Open(path, cfg.RecentFilesCap)
}

// openLogFile opens the editor session log under the user config dir.
func openLogFile() (*os.File, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "bitquill")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "bitquill.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
