// Package checkpoint persists the result collection and reads it back on
// the next run. Backends share one contract: a save replaces the stored
// set, loading an absent store yields no results, and a store held by
// another process reports ErrLocked so the caller can ask for it to be
// released.
package checkpoint

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/model"
)

// ErrLocked is returned by Save when another process holds the store.
var ErrLocked = eris.New("checkpoint: store locked")

// Store is a persistent result store.
type Store interface {
	// Load returns every stored result, at most one per original index.
	Load(ctx context.Context) ([]model.ResultRecord, error)
	// Save replaces the stored results.
	Save(ctx context.Context, results []model.ResultRecord) error
	Close() error
	// Location names the store for logs and prompts.
	Location() string
}

// Driver names.
const (
	DriverAuto     = "auto"
	DriverXLSX     = "xlsx"
	DriverCSV      = "csv"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	Path        string
	DatabaseURL string
	Layout      model.Layout
	SheetName   string
	// BusyTimeout bounds how long database backends wait for a lock
	// before reporting ErrLocked.
	BusyTimeout time.Duration
}

// DriverFor resolves DriverAuto from the output path extension.
func DriverFor(opts Options) (string, error) {
	d := strings.ToLower(strings.TrimSpace(opts.Driver))
	if d != "" && d != DriverAuto {
		switch d {
		case DriverXLSX, DriverCSV, DriverSQLite, DriverPostgres:
			return d, nil
		}
		return "", eris.Errorf("checkpoint: unknown driver %q", opts.Driver)
	}
	if opts.DatabaseURL != "" {
		return DriverPostgres, nil
	}
	switch strings.ToLower(filepath.Ext(opts.Path)) {
	case ".xlsx", ".xlsm":
		return DriverXLSX, nil
	case ".csv", ".txt":
		return DriverCSV, nil
	case ".db", ".sqlite", ".sqlite3":
		return DriverSQLite, nil
	}
	return "", eris.Errorf("checkpoint: cannot infer driver from %q", opts.Path)
}

// Open returns the backend selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver, err := DriverFor(opts)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("checkpoint: opening store", zap.String("driver", driver), zap.String("path", opts.Path))
	switch driver {
	case DriverXLSX:
		return NewXLSX(opts.Path, opts.Layout, opts.SheetName), nil
	case DriverCSV:
		return NewCSV(opts.Path, opts.Layout), nil
	case DriverSQLite:
		return NewSQLite(ctx, opts.Path, opts.BusyTimeout)
	default:
		if opts.DatabaseURL == "" {
			return nil, eris.New("checkpoint: postgres driver needs a database url")
		}
		return NewPostgres(ctx, opts.DatabaseURL, opts.BusyTimeout)
	}
}

// dedupe keeps the last record for each index and orders by index.
func dedupe(results []model.ResultRecord) []model.ResultRecord {
	pos := make(map[int]int, len(results))
	out := make([]model.ResultRecord, 0, len(results))
	for _, r := range results {
		if i, ok := pos[r.Index]; ok {
			out[i] = r
			continue
		}
		pos[r.Index] = len(out)
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b model.ResultRecord) int { return a.Index - b.Index })
	return out
}
