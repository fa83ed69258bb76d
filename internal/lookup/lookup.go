// Package lookup loads the IN_/OUT category tables that drive attribute
// reclassification of vector layers.
package lookup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/fetcher"
)

// Header names every lookup table must carry.
const (
	InColumn  = "IN_"
	OutColumn = "OUT"
)

// ReclassMap maps a source category token to its numeric score. Tokens are
// matched exactly and case-sensitively.
type ReclassMap struct {
	Source string
	values map[string]float64
	order  []string
}

// New builds a ReclassMap from literal pairs.
func New(source string, pairs map[string]float64) *ReclassMap {
	m := &ReclassMap{Source: source, values: make(map[string]float64, len(pairs))}
	for k, v := range pairs {
		m.put(k, v)
	}
	return m
}

func (m *ReclassMap) put(token string, v float64) bool {
	_, dup := m.values[token]
	if !dup {
		m.order = append(m.order, token)
	}
	m.values[token] = v
	return dup
}

// Lookup returns the score for token.
func (m *ReclassMap) Lookup(token string) (float64, bool) {
	v, ok := m.values[token]
	return v, ok
}

// Len returns the number of distinct tokens.
func (m *ReclassMap) Len() int { return len(m.values) }

// Tokens returns the tokens in first-seen order.
func (m *ReclassMap) Tokens() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Load reads a lookup table from path. .xlsx workbooks use their first
// sheet; anything else is read as UTF-8 delimited text, semicolon first,
// falling back to commas when no row contains a semicolon. Every failure
// is a MappingFile error.
func Load(ctx context.Context, path string) (*ReclassMap, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, failure.New(failure.MappingFile, eris.Wrapf(statErr, "lookup: open %s", path))
		}
		rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{TrimSpace: true, SkipEmpty: true})
	default:
		rows, err = readDelimited(ctx, path)
	}
	if err != nil {
		return nil, failure.New(failure.MappingFile, eris.Wrapf(err, "lookup: read %s", path))
	}

	m, err := Parse(path, rows)
	if err != nil {
		return nil, failure.New(failure.MappingFile, err)
	}
	return m, nil
}

func readDelimited(ctx context.Context, path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := io.ReadAll(fetcher.UTF8Reader(bytes.NewReader(data)))
	if err != nil {
		return nil, eris.Wrap(err, "decode utf-8")
	}

	delim := ';'
	if !bytes.ContainsRune(decoded, ';') && bytes.ContainsRune(decoded, ',') {
		delim = ','
	}
	return fetcher.ReadCSV(ctx, bytes.NewReader(decoded), fetcher.CSVOptions{
		Delimiter:  delim,
		LazyQuotes: true,
		TrimSpace:  true,
		SkipEmpty:  true,
	})
}

// Parse builds a ReclassMap from a header row followed by data rows. The
// header must name IN_ and OUT columns exactly; other columns are ignored.
// Rows missing either cell are skipped, as are rows with an empty IN_
// token; an OUT cell that is not a number is an error. A repeated token
// keeps its last value.
func Parse(source string, rows [][]string) (*ReclassMap, error) {
	if len(rows) == 0 {
		return nil, eris.Errorf("lookup: %s is empty", source)
	}

	inIdx, outIdx := -1, -1
	for i, h := range rows[0] {
		switch strings.TrimSpace(h) {
		case InColumn:
			inIdx = i
		case OutColumn:
			outIdx = i
		}
	}
	if inIdx < 0 || outIdx < 0 {
		return nil, eris.Errorf("lookup: %s: header %q lacks %s and %s columns", source, rows[0], InColumn, OutColumn)
	}

	log := zap.L().With(zap.String("component", "lookup"), zap.String("source", source))
	m := &ReclassMap{Source: source, values: make(map[string]float64, len(rows)-1)}
	for n, row := range rows[1:] {
		line := n + 2
		if inIdx >= len(row) || outIdx >= len(row) {
			log.Warn("skipping short row", zap.Int("line", line), zap.Strings("row", row))
			continue
		}
		token := strings.TrimSpace(row[inIdx])
		raw := strings.TrimSpace(row[outIdx])
		if token == "" {
			if raw != "" {
				log.Warn("skipping row without IN_ token", zap.Int("line", line), zap.String("out", raw))
			}
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return nil, eris.Errorf("lookup: %s line %d: OUT value %q for %q is not numeric", source, line, raw, token)
		}
		if m.put(token, v) {
			log.Warn("duplicate token, later row wins", zap.String("token", token), zap.Int("line", line))
		}
	}
	return m, nil
}

// parseNumber accepts a decimal comma when the cell holds no dot.
func parseNumber(s string) (float64, error) {
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}
