// Package tabular reads and writes the spreadsheets a batch consumes and
// produces. Format is chosen by file extension.
package tabular

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format is a supported file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// Table is a header row plus data rows. Rows may be shorter or longer than
// the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the position of name in the header, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Options configures reading.
type Options struct {
	SheetName  string
	SheetIndex int
	// Encoding names the charset of csv input (WHATWG label); empty is utf-8.
	Encoding  string
	Delimiter rune
}

// FormatOf returns the format implied by path's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	default:
		return "", eris.Errorf("tabular: unsupported file extension %q", filepath.Ext(path))
	}
}

// Read loads path as a table.
func Read(path string, opts Options) (Table, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Table{}, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSX(path, opts)
	default:
		f, err := os.Open(path)
		if err != nil {
			return Table{}, eris.Wrap(err, "csv: open file")
		}
		defer func() { _ = f.Close() }()
		return ReadCSV(f, opts)
	}
}

// Write stores t at path, replacing any existing file only once the new
// content is fully written.
func Write(path string, t Table, sheetName string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatXLSX:
		return WriteXLSX(path, t, sheetName)
	default:
		return WriteCSV(path, t)
	}
}

// Exists reports whether path names an existing file.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, eris.Wrapf(err, "tabular: stat %s", path)
}

// atomicWrite calls write with a temp file in path's directory, then
// renames it over path.
func atomicWrite(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "tabular: create temp file in %s", dir)
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(name) }()

	if err := write(name); err != nil {
		return err
	}
	if err := os.Rename(name, path); err != nil {
		return eris.Wrapf(err, "tabular: replace %s", path)
	}
	return nil
}
