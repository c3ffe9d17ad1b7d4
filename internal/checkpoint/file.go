package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/tabular"
)

// FileStore keeps results in one spreadsheet file, rewritten in full on
// every save.
type FileStore struct {
	path   string
	layout model.Layout
	sheet  string
}

// NewXLSX returns a store writing path as an xlsx workbook.
func NewXLSX(path string, layout model.Layout, sheet string) *FileStore {
	if sheet == "" {
		sheet = tabular.DefaultSheet
	}
	return &FileStore{path: path, layout: layout, sheet: sheet}
}

// NewCSV returns a store writing path as csv.
func NewCSV(path string, layout model.Layout) *FileStore {
	return &FileStore{path: path, layout: layout}
}

// Location implements Store.
func (s *FileStore) Location() string { return s.path }

// Load implements Store. Rows without a readable index are skipped; when
// an index repeats the last row wins.
func (s *FileStore) Load(_ context.Context) ([]model.ResultRecord, error) {
	ok, err := tabular.Exists(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t, err := tabular.Read(s.path, tabular.Options{})
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read %s", s.path)
	}

	results := make([]model.ResultRecord, 0, len(t.Rows))
	skipped := 0
	for _, row := range t.Rows {
		r, ok := s.layout.Parse(t.Header, row)
		if !ok {
			skipped++
			continue
		}
		results = append(results, r)
	}
	if skipped > 0 {
		zap.L().Warn("checkpoint: skipped rows without index", zap.String("path", s.path), zap.Int("rows", skipped))
	}
	return dedupe(results), nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, results []model.ResultRecord) error {
	if owner, locked := editorLock(s.path); locked {
		return eris.Wrapf(ErrLocked, "%s is open in another program (%s)", s.path, owner)
	}
	t := tabular.Table{Header: s.layout.Columns()}
	for _, r := range dedupe(results) {
		t.Rows = append(t.Rows, s.layout.Row(r))
	}
	if err := tabular.Write(s.path, t, s.sheet); err != nil {
		if isLockError(err) {
			return eris.Wrapf(ErrLocked, "%s: %v", s.path, err)
		}
		return eris.Wrapf(err, "checkpoint: write %s", s.path)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// editorLock reports the owner file spreadsheet editors create next to a
// document they have open: "~$name" for Excel, ".~lock.name#" for
// LibreOffice.
func editorLock(path string) (string, bool) {
	dir, base := filepath.Split(path)
	for _, name := range []string{"~$" + base, ".~lock." + base + "#"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func isLockError(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY)
}
