package enrich

import (
	"fmt"
	"strings"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/model"
)

// Note texts written to the observation column.
const (
	NoteFound           = "Exito"
	NoteNotFound        = "No encontrado en web"
	NoteConnectionError = "ERROR CONEXION: "
)

// Keywords are the status markers searched for in response text, checked
// in the order active, inactive, suspended.
type Keywords struct {
	Active    []string
	Inactive  []string
	Suspended []string
}

// DefaultKeywords match the registry's result page.
func DefaultKeywords() Keywords {
	return Keywords{
		Active:    []string{"ACTIVO"},
		Inactive:  []string{"BAJA"},
		Suspended: []string{"SUSPENSION"},
	}
}

// Classifier turns a fetch outcome into a result record.
type Classifier struct {
	order  []statusKeywords
	prefix string
}

type statusKeywords struct {
	status   model.Status
	keywords []string
}

// NewClassifier builds a classifier. preferredPrefix selects which
// candidates win when a page lists more than one; empty disables the
// preference.
func NewClassifier(kw Keywords, preferredPrefix string) *Classifier {
	up := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, k := range in {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				out = append(out, k)
			}
		}
		return out
	}
	return &Classifier{
		order: []statusKeywords{
			{model.StatusActive, up(kw.Active)},
			{model.StatusInactive, up(kw.Inactive)},
			{model.StatusSuspended, up(kw.Suspended)},
		},
		prefix: preferredPrefix,
	}
}

// Status scans text for keywords; the first status with a match wins.
func (c *Classifier) Status(text string) model.Status {
	upper := strings.ToUpper(text)
	for _, sk := range c.order {
		for _, k := range sk.keywords {
			if strings.Contains(upper, k) {
				return sk.status
			}
		}
	}
	return model.StatusUnknown
}

// Pick chooses one identifier. Candidates with the preferred prefix are
// kept when there are any, then the first is taken. No similarity scoring
// against the searched name is attempted.
func (c *Classifier) Pick(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if c.prefix != "" {
		for _, cand := range candidates {
			if strings.HasPrefix(cand, c.prefix) {
				return cand
			}
		}
	}
	return candidates[0]
}

// Apply fills rec from the outcome of the variant at position idx in the
// item's variant list.
func (c *Classifier) Apply(rec model.ResultRecord, out lookup.Outcome, variant string, idx int) model.ResultRecord {
	if !out.Found() {
		return NotFound(rec)
	}
	rec.Identifier = c.Pick(out.Candidates)
	rec.Status = c.Status(out.Text)
	rec.Note = NoteFound
	if idx > 0 {
		rec.Note += fmt.Sprintf(" (variante: %s)", variant)
	}
	return rec
}

// NotFound marks rec as not found.
func NotFound(rec model.ResultRecord) model.ResultRecord {
	rec.Identifier = ""
	rec.Status = model.StatusNotFound
	rec.Note = NoteNotFound
	return rec
}

// Failed marks rec with the error raised while fetching it.
func Failed(rec model.ResultRecord, err error, connection bool) model.ResultRecord {
	rec.Identifier = ""
	if connection {
		rec.Status = model.StatusConnectionError
		rec.Note = NoteConnectionError + err.Error()
		return rec
	}
	rec.Status = model.StatusError
	rec.Note = err.Error()
	return rec
}
