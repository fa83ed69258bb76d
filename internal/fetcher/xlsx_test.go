package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadXLSX_FirstSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{" IN_ ", "OUT"},
			{"Granito", "3"},
			{"", ""},
			{"Areia", "8"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{TrimSpace: true, SkipEmpty: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"IN_", "OUT"}, rows[0])
	assert.Equal(t, []string{"Areia", "8"}, rows[2])
}

func TestReadXLSX_ByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"soil": {{"IN_", "OUT"}, {"Clay", "1"}},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "soil"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"IN_", "OUT"}, {"Clay", "1"}}, rows)

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "missing"})
	assert.ErrorContains(t, err, "not found")

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("IN_;OUT"), 0o644))
	_, err := ReadXLSX(path, XLSXOptions{})
	assert.ErrorContains(t, err, "xlsx: open file")
}
