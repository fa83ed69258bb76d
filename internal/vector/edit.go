package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Float field geometry used for numeric output columns.
const (
	outputFieldSize     = 24
	outputFieldDecimals = 10
	maxFieldNameLen     = 10
)

var (
	editMu  sync.Mutex
	editing = make(map[string]bool)
)

// commitOrder is the order in which a committed edit replaces the layer's
// files.
var commitOrder = []string{".shp", ".shx", ".dbf"}

// rename is swapped in tests to inject failures.
var rename = os.Rename

// tempName is the file shp.Create produces for base and ext. go-shp names
// the table "<base>dbf", without the dot.
func tempName(base, ext string) string {
	if ext == ".dbf" {
		return base + "dbf"
	}
	return base + ext
}

// Session is an exclusive attribute edit of one layer. Changes are buffered
// until Commit rewrites the shapefile; Discard abandons them. A session
// holds an in-process lock and a <name>.shp.lock file while open.
type Session struct {
	layer    *Layer
	fields   []Field
	values   [][]string
	key      string
	lockPath string
	closed   bool
}

// Begin opens an edit session on l. It fails when another session, in this
// process or another, already holds the layer.
func Begin(l *Layer) (*Session, error) {
	key, err := filepath.Abs(l.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: resolve %s", l.Path)
	}

	editMu.Lock()
	if editing[key] {
		editMu.Unlock()
		return nil, eris.Errorf("vector: %s is already being edited", l.Path)
	}
	editing[key] = true
	editMu.Unlock()

	lockPath := key + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		release(key)
		if os.IsExist(err) {
			return nil, eris.Errorf("vector: %s is locked by another process (remove %s if stale)", l.Path, lockPath)
		}
		return nil, eris.Wrapf(err, "vector: create lock %s", lockPath)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	s := &Session{
		layer:    l,
		fields:   append([]Field(nil), l.Fields...),
		values:   make([][]string, len(l.Features)),
		key:      key,
		lockPath: lockPath,
	}
	for i, feat := range l.Features {
		row := make([]string, len(feat.Attrs), len(feat.Attrs)+1)
		copy(row, feat.Attrs)
		s.values[i] = row
	}
	return s, nil
}

func release(key string) {
	editMu.Lock()
	delete(editing, key)
	editMu.Unlock()
}

// Fields returns the session's current column layout.
func (s *Session) Fields() []Field { return s.fields }

// EnsureField returns the index of the named column, adding a float column
// when the layer has none (matched case-insensitively).
func (s *Session) EnsureField(name string) (int, error) {
	if s.closed {
		return 0, eris.New("vector: session closed")
	}
	for i, f := range s.fields {
		if strings.EqualFold(f.Name, name) {
			return i, nil
		}
	}
	if name == "" || len(name) > maxFieldNameLen {
		return 0, eris.Errorf("vector: field name %q must be 1-%d bytes", name, maxFieldNameLen)
	}
	s.fields = append(s.fields, Field{Name: name, Type: 'F', Size: outputFieldSize, Decimals: outputFieldDecimals})
	for i := range s.values {
		s.values[i] = append(s.values[i], "")
	}
	return len(s.fields) - 1, nil
}

// SetFloat stores v in field of feature, formatted to the column's
// declared precision.
func (s *Session) SetFloat(feature, field int, v float64) error {
	if s.closed {
		return eris.New("vector: session closed")
	}
	f := s.fields[field]
	var text string
	if f.Numeric() {
		text = strconv.FormatFloat(v, 'f', f.Decimals, 64)
	} else {
		text = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if len(text) > f.Size {
		return eris.Errorf("vector: value %v does not fit field %s (%d bytes)", v, f.Name, f.Size)
	}
	s.values[feature][field] = text
	return nil
}

// Clear nulls field of feature.
func (s *Session) Clear(feature, field int) {
	s.values[feature][field] = ""
}

// Get returns the buffered text of field on feature.
func (s *Session) Get(feature, field int) string {
	return s.values[feature][field]
}

// Commit writes the buffered table to temporary files next to the layer and
// swaps them in, then refreshes the layer and ends the session. The swap
// moves each original to <file>.bak first; if any step fails the backups
// are restored, so the layer is either fully old or fully new.
func (s *Session) Commit() error {
	if s.closed {
		return eris.New("vector: session closed")
	}
	l := s.layer
	stem := strings.TrimSuffix(l.Path, filepath.Ext(l.Path))
	tmp := filepath.Join(filepath.Dir(stem), "."+filepath.Base(stem)+".edit")

	if err := s.write(tmp); err != nil {
		removeSet(tmp)
		s.Discard()
		return err
	}
	if err := replaceSet(tmp, stem); err != nil {
		removeSet(tmp)
		s.Discard()
		return err
	}

	l.Fields = s.fields
	for i := range l.Features {
		l.Features[i].Attrs = s.values[i]
	}
	zap.L().Debug("vector: committed edit",
		zap.String("path", l.Path),
		zap.Int("features", len(l.Features)),
		zap.Int("fields", len(s.fields)),
	)
	s.Discard()
	return nil
}

func (s *Session) write(tmp string) error {
	l := s.layer
	w, err := shp.Create(tmp+".shp", l.ShapeType)
	if err != nil {
		return eris.Wrapf(err, "vector: create %s.shp", tmp)
	}
	defer w.Close()

	dbf := make([]shp.Field, len(s.fields))
	for i, f := range s.fields {
		dbf[i] = f.dbf()
	}
	if err := w.SetFields(dbf); err != nil {
		return eris.Wrap(err, "vector: set fields")
	}

	for i, feat := range l.Features {
		if feat.Shape == nil {
			return eris.Errorf("vector: feature %d has no shape", i)
		}
		row := int(w.Write(feat.Shape))
		for j, v := range s.values[i] {
			if v == "" {
				continue
			}
			enc, err := l.encode(v)
			if err != nil {
				return eris.Wrapf(err, "vector: encode %s row %d", s.fields[j].Name, i)
			}
			if err := w.WriteAttribute(row, j, enc); err != nil {
				return eris.Wrapf(err, "vector: write %s row %d", s.fields[j].Name, i)
			}
		}
	}
	return nil
}

// Discard abandons buffered changes and releases the locks. It is safe to
// call more than once and after Commit.
func (s *Session) Discard() {
	if s.closed {
		return
	}
	s.closed = true
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("vector: remove lock file", zap.String("path", s.lockPath), zap.Error(err))
	}
	release(s.key)
}

// replaceSet moves the files written under tmp over stem's, in commitOrder.
func replaceSet(tmp, stem string) error {
	var backedUp, placed []string
	rollback := func() {
		for _, dst := range placed {
			_ = os.Remove(dst)
		}
		for _, dst := range backedUp {
			if err := rename(dst+".bak", dst); err != nil {
				zap.L().Error("vector: restore backup", zap.String("path", dst), zap.Error(err))
			}
		}
	}

	for _, ext := range commitOrder {
		dst := stem + ext
		info, err := os.Lstat(dst)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			rollback()
			return eris.Wrapf(err, "vector: stat %s", dst)
		}
		if !info.Mode().IsRegular() {
			rollback()
			return eris.Errorf("vector: %s is not a regular file", dst)
		}
		if err := rename(dst, dst+".bak"); err != nil {
			rollback()
			return eris.Wrapf(err, "vector: back up %s", dst)
		}
		backedUp = append(backedUp, dst)
	}

	for _, ext := range commitOrder {
		dst := stem + ext
		if err := rename(tempName(tmp, ext), dst); err != nil {
			rollback()
			return eris.Wrapf(err, "vector: replace %s", dst)
		}
		placed = append(placed, dst)
	}

	for _, dst := range backedUp {
		if err := os.Remove(dst + ".bak"); err != nil {
			zap.L().Warn("vector: remove backup", zap.String("path", dst+".bak"), zap.Error(err))
		}
	}
	return nil
}

func removeSet(base string) {
	for _, ext := range commitOrder {
		_ = os.Remove(tempName(base, ext))
	}
}
