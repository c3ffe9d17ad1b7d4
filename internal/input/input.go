// Package input loads the source spreadsheet into InputRecords, detecting
// the key column and the auxiliary columns carried through to the output.
package input

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/tabular"
)

// ErrNoKeyColumn is returned when no header looks like a company name column.
var ErrNoKeyColumn = eris.New("input: no company name column found")

// Options controls column detection.
type Options struct {
	tabular.Options
	// KeyColumn is the exact header of the key column. Empty means the first
	// header containing "razon" or "social".
	KeyColumn string
	// AuxColumns are exact headers to carry through. Nil means the first
	// headers containing "direccion" and "numero".
	AuxColumns []string
}

// AuxColumn maps a source header to its output column name.
type AuxColumn struct {
	Source string
	Output string
	pos    int
}

// Sheet is a loaded input.
type Sheet struct {
	Records   []model.InputRecord
	KeyColumn string
	Aux       []AuxColumn
	Header    []string
	Rows      [][]string
}

// Layout returns the output layout carrying this sheet's aux columns.
func (s *Sheet) Layout() model.Layout {
	l := model.Layout{}
	for _, a := range s.Aux {
		l.Aux = append(l.Aux, a.Output)
	}
	return l
}

// Load reads path and builds one InputRecord per data row. Original indices
// are the zero-based data row positions, so they are stable for an
// unchanged file.
func Load(path string, opts Options) (*Sheet, error) {
	tbl, err := tabular.Read(path, opts.Options)
	if err != nil {
		return nil, eris.Wrapf(err, "input: read %s", path)
	}
	return FromTable(tbl, opts)
}

// FromTable builds a Sheet from an already loaded table.
func FromTable(tbl tabular.Table, opts Options) (*Sheet, error) {
	keyPos, err := keyColumn(tbl, opts.KeyColumn)
	if err != nil {
		return nil, err
	}
	aux, err := auxColumns(tbl, opts.AuxColumns)
	if err != nil {
		return nil, err
	}

	s := &Sheet{
		KeyColumn: tbl.Header[keyPos],
		Aux:       aux,
		Header:    tbl.Header,
		Rows:      tbl.Rows,
		Records:   make([]model.InputRecord, 0, len(tbl.Rows)),
	}
	for i, row := range tbl.Rows {
		rec := model.InputRecord{Index: i, Key: strings.TrimSpace(cell(row, keyPos))}
		if len(aux) > 0 {
			rec.Aux = make(map[string]string, len(aux))
			for _, a := range aux {
				rec.Aux[a.Output] = strings.TrimSpace(cell(row, a.pos))
			}
		}
		s.Records = append(s.Records, rec)
	}

	fields := []zap.Field{zap.String("key_column", s.KeyColumn), zap.Int("records", len(s.Records))}
	for _, a := range aux {
		fields = append(fields, zap.String("aux_"+a.Output, a.Source))
	}
	zap.L().Info("input: loaded", fields...)
	return s, nil
}

func keyColumn(tbl tabular.Table, explicit string) (int, error) {
	if explicit != "" {
		if pos := tbl.Column(explicit); pos >= 0 {
			return pos, nil
		}
		return -1, eris.Errorf("input: key column %q not found", explicit)
	}
	for i, h := range tbl.Header {
		f := fold(h)
		if strings.Contains(f, "razon") || strings.Contains(f, "social") {
			return i, nil
		}
	}
	return -1, ErrNoKeyColumn
}

var autoAux = []string{"direccion", "numero"}

func auxColumns(tbl tabular.Table, explicit []string) ([]AuxColumn, error) {
	var out []AuxColumn
	if explicit != nil {
		for _, name := range explicit {
			pos := tbl.Column(name)
			if pos < 0 {
				return nil, eris.Errorf("input: aux column %q not found", name)
			}
			out = append(out, AuxColumn{Source: name, Output: OutputName(name), pos: pos})
		}
		return out, nil
	}
	for _, want := range autoAux {
		for i, h := range tbl.Header {
			if strings.Contains(fold(h), want) {
				out = append(out, AuxColumn{Source: h, Output: want + "_original", pos: i})
				break
			}
		}
	}
	return out, nil
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// OutputName derives the output column name for an aux header.
func OutputName(header string) string {
	s := strings.Trim(nonWord.ReplaceAllString(fold(header), "_"), "_")
	if s == "" {
		s = "aux"
	}
	return s + "_original"
}

// fold lowercases s and strips diacritics so "Razón" matches "razon".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
