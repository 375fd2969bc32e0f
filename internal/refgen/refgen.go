// Package refgen turns a reference workbook into the YAML reference file
// read by config.LoadCatalog.
package refgen

import (
	"fmt"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// FromRows converts sheet rows into reference entries. The first row is the
// header: its names label the extra columns (extra_N when blank). Column 1 is
// the section, column 2 the expected value. A repeated section keeps its first
// entry and yields a warning.
func FromRows(rows [][]string) ([]domain.ReferenceEntry, []string) {
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	var (
		entries  []domain.ReferenceEntry
		warnings []string
	)
	seen := make(map[string]int)
	for i, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		section := strings.TrimSpace(row[0])
		if section == "" {
			continue
		}
		line := i + 2
		if first, dup := seen[section]; dup {
			warnings = append(warnings, fmt.Sprintf("ligne %d: section %q déjà définie ligne %d, ignorée", line, section, first))
			continue
		}
		seen[section] = line
		entries = append(entries, buildEntry(section, row[1:], header))
	}
	return entries, warnings
}

func buildEntry(section string, cells, header []string) domain.ReferenceEntry {
	e := domain.ReferenceEntry{Section: section}
	if len(cells) == 0 {
		return e
	}
	e.Expected = cells[0]
	for j, c := range cells[1:] {
		key := ""
		if col := j + 2; col < len(header) {
			key = strings.TrimSpace(header[col])
		}
		if key == "" {
			key = fmt.Sprintf("extra_%d", j+1)
		}
		e.Extras = append(e.Extras, domain.Extra{Key: key, Value: c})
	}
	return e
}
