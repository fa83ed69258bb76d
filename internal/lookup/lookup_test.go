package lookup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/drastic-cli/internal/failure"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_SemicolonWithBOM(t *testing.T) {
	path := writeFile(t, "geology.csv", "\ufeffIN_;OUT\nGranito;3\nAreia e cascalho;8\n  Xisto ; 2,5 \n")

	m, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	v, ok := m.Lookup("Granito")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = m.Lookup("Xisto")
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok = m.Lookup("Calcario")
	assert.False(t, ok)
	assert.Equal(t, []string{"Granito", "Areia e cascalho", "Xisto"}, m.Tokens())
}

func TestLoad_CommaFallback(t *testing.T) {
	path := writeFile(t, "soil.csv", "IN_,OUT\nX,1\nY,2\n")
	m, err := Load(context.Background(), path)
	require.NoError(t, err)

	v, ok := m.Lookup("Y")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestLoad_ExtraColumnsAndOrder(t *testing.T) {
	path := writeFile(t, "t.txt", "desc;OUT;IN_\nsandy;4;S1\n")
	m, err := Load(context.Background(), path)
	require.NoError(t, err)

	v, ok := m.Lookup("S1")
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
}

func TestLoad_DuplicateLaterWins(t *testing.T) {
	path := writeFile(t, "dup.csv", "IN_;OUT\nA;1\nA;7\n")
	m, err := Load(context.Background(), path)
	require.NoError(t, err)
	v, _ := m.Lookup("A")
	assert.Equal(t, 7.0, v)
	assert.Equal(t, 1, m.Len())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		message string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.csv") },
			message: "lookup: read",
		},
		{
			name:    "missing header columns",
			path:    func(t *testing.T) string { return writeFile(t, "h.csv", "CODE;VALUE\nA;1\n") },
			message: "lacks IN_ and OUT",
		},
		{
			name:    "lower case header",
			path:    func(t *testing.T) string { return writeFile(t, "l.csv", "in_;out\nA;1\n") },
			message: "lacks IN_ and OUT",
		},
		{
			name:    "empty file",
			path:    func(t *testing.T) string { return writeFile(t, "e.csv", "") },
			message: "is empty",
		},
		{
			name:    "non numeric out",
			path:    func(t *testing.T) string { return writeFile(t, "n.csv", "IN_;OUT\nA;high\n") },
			message: "not numeric",
		},
		{
			name:    "missing workbook",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.xlsx") },
			message: "lookup: open",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.path(t))
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.MappingFile), "got %v", err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoad_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("lookup")
	require.NoError(t, err)
	for _, r := range [][]string{{"IN_", "OUT"}, {"X", "1"}, {"Y", "2"}} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "geo.xlsx")
	require.NoError(t, f.Save(path))

	m, err := Load(context.Background(), path)
	require.NoError(t, err)
	v, ok := m.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 2, m.Len())
}

func TestParse_SkipsShortRows(t *testing.T) {
	m, err := Parse("mem", [][]string{{"IN_", "OUT"}, {"A"}, {"B", "2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestNew(t *testing.T) {
	m := New("literal", map[string]float64{"X": 1, "Y": 2})
	v, ok := m.Lookup(" X ")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestParse_SkipsEmptyToken(t *testing.T) {
	m, err := Parse("mem", [][]string{{"IN_", "OUT"}, {"", "7"}, {"X", "4"}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Lookup("")
	assert.False(t, ok)
}

func TestLookup_ExactMatch(t *testing.T) {
	m := New("mem", map[string]float64{"Granito": 3})
	_, ok := m.Lookup("granito")
	assert.False(t, ok, "matching is case-sensitive")
	_, ok = m.Lookup(" Granito")
	assert.False(t, ok, "tokens are not trimmed at lookup")
	v, ok := m.Lookup("Granito")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}
