package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// ReadCSV reads r as csv; the first record is the header. Input in
// opts.Encoding is decoded to utf-8 and a leading byte order mark dropped.
func ReadCSV(r io.Reader, opts Options) (Table, error) {
	if opts.Encoding != "" && !strings.EqualFold(opts.Encoding, "utf-8") {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return Table{}, eris.Wrapf(err, "csv: unsupported charset %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var t Table
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return Table{}, eris.Wrap(err, "csv: read row")
		}
		if first {
			first = false
			if len(record) > 0 {
				record[0] = strings.TrimPrefix(record[0], "\ufeff")
			}
			t.Header = record
			continue
		}
		if isBlank(record) {
			continue
		}
		t.Rows = append(t.Rows, record)
	}
}

// WriteCSV writes t as utf-8 csv.
func WriteCSV(path string, t Table) error {
	return atomicWrite(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return eris.Wrap(err, "csv: create file")
		}
		w := csv.NewWriter(f)
		if err := w.Write(t.Header); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "csv: write header")
		}
		if err := w.WriteAll(t.Rows); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "csv: write rows")
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "csv: close file")
		}
		return nil
	})
}
