package spreadsheet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func buildWorkbook(t *testing.T, sheets map[string][][]any, order ...string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cellRef, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			row := row
			require.NoError(t, f.SetSheetRow(name, cellRef, &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseUserEntries(t *testing.T) {
	t.Parallel()

	buf := buildWorkbook(t, map[string][][]any{
		"Rapport": {
			{"Section", "Valeur", "Notes"},
			{"Amiante", "Présence confirmée", "voir annexe"},
			{"", "ligne ignorée"},
			{"  Plomb  ", "Absent"},
			{"Bruit"},
		},
		"Autre": {{"X", "Y"}, {"Z", "W"}},
	}, "Rapport", "Autre")

	entries, err := ParseUserEntries(buf)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserEntry{
		{Section: "Amiante", Value: "Présence confirmée", Notes: "voir annexe"},
		{Section: "Plomb", Value: "Absent"},
		{Section: "Bruit"},
	}, entries)
}

func TestParseUserEntries_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseUserEntries(bytes.NewReader([]byte("not a workbook")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	assert.True(t, errors.Is(err, ErrUnreadable))

	empty := buildWorkbook(t, map[string][][]any{"Feuil1": nil}, "Feuil1")
	_, err = ParseUserEntries(empty)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoHeader))
}

func TestRows_SelectSheet(t *testing.T) {
	t.Parallel()

	data := map[string][][]any{
		"A": {{"h"}, {"a1"}},
		"B": {{"h"}, {"b1", "b2"}},
	}
	name, rows, err := Rows(buildWorkbook(t, data, "A", "B"), "B")
	require.NoError(t, err)
	assert.Equal(t, "B", name)
	assert.Equal(t, [][]string{{"h"}, {"b1", "b2"}}, rows)

	name, _, err = Rows(buildWorkbook(t, data, "A", "B"), "")
	require.NoError(t, err)
	assert.Equal(t, "A", name)

	_, _, err = Rows(buildWorkbook(t, data, "A", "B"), "C")
	assert.True(t, errors.Is(err, ErrSheetAbsent))
}
