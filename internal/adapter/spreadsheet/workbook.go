// Package spreadsheet reads uploaded .xlsx workbooks.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// User-facing parse failures.
var (
	ErrNoSheet     = errors.New("Le fichier ne contient aucune feuille Excel exploitable.")
	ErrNoHeader    = errors.New("La première ligne doit contenir au minimum la colonne dédiée aux sections.")
	ErrUnreadable  = errors.New("Le fichier Excel est illisible ou corrompu.")
	ErrSheetAbsent = errors.New("La feuille demandée n'existe pas dans le classeur.")
)

// Rows returns the name and the rows of sheet, or of the first sheet when
// sheet is empty. Trailing empty cells of each row are dropped.
func Rows(r io.Reader, sheet string) (string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	if len(names) == 0 {
		return "", nil, ErrNoSheet
	}
	if sheet == "" {
		sheet = names[0]
	} else if !contains(names, sheet) {
		return "", nil, fmt.Errorf("%w: %q (disponibles: %s)", ErrSheetAbsent, sheet, strings.Join(names, ", "))
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return sheet, rows, nil
}

// ParseUserEntries reads the first sheet of a submitted workbook. The first
// row is a header; every later row with a non-blank first cell becomes an
// entry of (section, value, notes).
func ParseUserEntries(r io.Reader) ([]domain.UserEntry, error) {
	_, rows, err := Rows(r, "")
	if err != nil {
		return nil, fmt.Errorf("op=spreadsheet.ParseUserEntries: %w: %w", domain.ErrInvalidArgument, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("op=spreadsheet.ParseUserEntries: %w: %w", domain.ErrInvalidArgument, ErrNoHeader)
	}
	entries := make([]domain.UserEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		section := strings.TrimSpace(cell(row, 0))
		if section == "" {
			continue
		}
		entries = append(entries, domain.UserEntry{
			Section: section,
			Value:   cell(row, 1),
			Notes:   cell(row, 2),
		})
	}
	return entries, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
