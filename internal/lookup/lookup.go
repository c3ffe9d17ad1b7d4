// Package lookup defines the boundary to the external identifier lookup:
// one Session per worker, opened by an Opener, answering one search
// variant at a time.
package lookup

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"
)

// DefaultIdentifierPattern matches 11-digit RUC numbers for entities (20)
// and individuals (10).
const DefaultIdentifierPattern = `\b(?:10|20)\d{9}\b`

// Outcome is the result of one fetch attempt.
type Outcome struct {
	Candidates []string
	Text       string
}

// Found reports whether the attempt yielded at least one candidate.
func (o Outcome) Found() bool {
	return len(o.Candidates) > 0
}

// Session is bound to one worker and must not be shared. Fetch may be called
// many times in sequence. Connectivity failures are returned as
// *resilience.ConnectionError; any other error is confined to the item.
type Session interface {
	Fetch(ctx context.Context, variant string) (Outcome, error)
	Close() error
}

// Opener creates sessions.
type Opener interface {
	Open(ctx context.Context, workerID int) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, workerID int) (Session, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, workerID int) (Session, error) {
	return f(ctx, workerID)
}

// Extractor finds candidate identifiers in response text.
type Extractor struct {
	re *regexp.Regexp
}

// NewExtractor compiles pattern, falling back to DefaultIdentifierPattern
// when it is empty.
func NewExtractor(pattern string) (*Extractor, error) {
	if pattern == "" {
		pattern = DefaultIdentifierPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "lookup: compile identifier pattern %q", pattern)
	}
	return &Extractor{re: re}, nil
}

// Find returns every match in text, in order of appearance. Repeats are kept
// so that callers see the page as it was.
func (e *Extractor) Find(text string) []string {
	return e.re.FindAllString(text, -1)
}

// Outcome builds an Outcome from page text.
func (e *Extractor) Outcome(text string) Outcome {
	return Outcome{Candidates: e.Find(text), Text: text}
}
