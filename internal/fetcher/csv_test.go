package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_SemicolonWithBOM(t *testing.T) {
	input := "\ufeffIN_;OUT\nGranite;2\nSand;8\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"IN_", "OUT"}, rows[0])
	assert.Equal(t, []string{"Sand", "8"}, rows[2])
}

func TestReadCSV_TrimAndSkipEmpty(t *testing.T) {
	input := " a , b \n\n ; \n c,d\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{TrimSpace: true, SkipEmpty: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b"}, rows[0])
	assert.Equal(t, []string{";"}, rows[1])
	assert.Equal(t, []string{"c", "d"}, rows[2])
}

func TestReadCSV_VariableFields(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a,b,c\n1\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Len(t, rows[1], 1)
}

func TestReadCSV_MalformedQuote(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\nc,d\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	var sb strings.Builder
	for range 5000 {
		sb.WriteString("x;1\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{Delimiter: ';'})

	<-rowCh
	cancel()
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestUTF8Reader_NoBOM(t *testing.T) {
	rows, err := ReadCSV(context.Background(), UTF8Reader(strings.NewReader("Argila;3\n")), CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Argila", "3"}}, rows)
}
