// Command refgen converts a reference workbook into configs/reference.yaml.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/spreadsheet"
	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/refgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "refgen:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("refgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "data/rapport_final.xlsx", "reference workbook (.xlsx)")
	sheet := fs.String("sheet", "", "sheet to read (default: first sheet)")
	out := fs.String("out", "", "YAML output path (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	name, rows, err := spreadsheet.Rows(f, *sheet)
	if err != nil {
		return err
	}
	entries, warnings := refgen.FromRows(rows)
	for _, w := range warnings {
		logger.Warn("duplicate section skipped", slog.String("detail", w))
	}
	data, err := config.EncodeReferences(entries)
	if err != nil {
		return fmt.Errorf("encode references: %w", err)
	}

	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	logger.Info("reference written", slog.String("sheet", name), slog.String("path", *out), slog.Int("sections", len(entries)))
	return nil
}
