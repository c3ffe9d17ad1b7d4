package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Fixed output column names.
const (
	ColIndex      = "indice_original"
	ColInputKey   = "razon_social_input"
	ColIdentifier = "ruc"
	ColStatus     = "estado"
	ColNote       = "observacion"
	ColWorkerID   = "worker_id"
)

// Layout describes the ordered output columns. Aux columns sit between the
// note and worker_id columns.
type Layout struct {
	Aux []string
}

// Columns returns the full ordered header.
func (l Layout) Columns() []string {
	cols := []string{ColIndex, ColInputKey, ColIdentifier, ColStatus, ColNote}
	cols = append(cols, l.Aux...)
	return append(cols, ColWorkerID)
}

// Row renders r in column order. Missing aux values are written empty.
func (l Layout) Row(r ResultRecord) []string {
	row := []string{
		strconv.Itoa(r.Index),
		r.InputKey,
		r.Identifier,
		string(r.Status),
		r.Note,
	}
	for _, name := range l.Aux {
		row = append(row, r.Aux[name])
	}
	return append(row, strconv.Itoa(r.WorkerID))
}

// Parse rebuilds a ResultRecord from a row under the given header. Unknown
// columns are treated as aux columns. ok is false when the index column is
// missing or unparsable; every other missing column is read as empty.
func (l Layout) Parse(header, row []string) (r ResultRecord, ok bool) {
	haveIndex := false
	for i, name := range header {
		var v string
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		switch strings.TrimSpace(name) {
		case ColIndex:
			n, err := parseIndex(v)
			if err != nil {
				return ResultRecord{}, false
			}
			r.Index = n
			haveIndex = true
		case ColInputKey:
			r.InputKey = v
		case ColIdentifier:
			r.Identifier = v
		case ColStatus:
			r.Status = ParseStatus(v)
		case ColNote:
			r.Note = v
		case ColWorkerID:
			if n, err := parseIndex(v); err == nil {
				r.WorkerID = n
			}
		default:
			if v == "" {
				continue
			}
			if r.Aux == nil {
				r.Aux = make(map[string]string)
			}
			r.Aux[name] = v
		}
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return r, haveIndex
}

// parseIndex accepts non-negative integers written either plainly or as
// whole floats ("12.0"), which is how spreadsheet tools often re-save
// integer cells.
func parseIndex(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, eris.Errorf("model: negative index %d", n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < 0 || f >= math.MaxInt64 || f != math.Trunc(f) {
		return 0, eris.Errorf("model: %q is not a row index", v)
	}
	return int(f), nil
}
