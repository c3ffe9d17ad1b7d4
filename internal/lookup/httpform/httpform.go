// Package httpform looks identifiers up by submitting a search form over
// plain HTTP and scanning the returned page (and its frames) for candidates.
package httpform

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Compile-time interface checks.
var (
	_ lookup.Opener  = (*Opener)(nil)
	_ lookup.Session = (*Session)(nil)
)

const maxBody = 2 << 20

// Config controls the form lookup.
type Config struct {
	URL         string
	Method      string
	QueryParam  string
	ExtraParams map[string]string
	Timeout     time.Duration
	RatePerSec  float64
	UserAgent   string
	// CaptchaSelector marks a page that asks for a captcha. Such pages
	// yield no candidates.
	CaptchaSelector string
	// MaxFrames bounds how many frame documents are followed per page.
	MaxFrames int
}

// Opener creates form sessions sharing one HTTP client and rate limiter.
type Opener struct {
	cfg       Config
	client    *http.Client
	limiter   *adaptiveLimiter
	extractor *lookup.Extractor
}

// New validates cfg and returns an Opener.
func New(cfg Config, ex *lookup.Extractor) (*Opener, error) {
	if cfg.URL == "" {
		return nil, eris.New("httpform: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, eris.Wrap(err, "httpform: parse url")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.QueryParam == "" {
		cfg.QueryParam = "razSoc"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; taxid-cli/1.0)"
	}
	if cfg.CaptchaSelector == "" {
		cfg.CaptchaSelector = "#txtCodigo"
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = 4
	}
	return &Opener{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.Timeout,
				}).DialContext,
				TLSHandshakeTimeout: cfg.Timeout,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   newAdaptiveLimiter(cfg.RatePerSec),
		extractor: ex,
	}, nil
}

// Open implements lookup.Opener.
func (o *Opener) Open(_ context.Context, workerID int) (lookup.Session, error) {
	return &Session{o: o, workerID: workerID}, nil
}

// Session is one worker's view of the form.
type Session struct {
	o        *Opener
	workerID int
	closed   bool
}

// Fetch submits variant and returns the candidates found on the result
// page. Frames are only followed when the main document has none.
func (s *Session) Fetch(ctx context.Context, variant string) (lookup.Outcome, error) {
	if s.closed {
		return lookup.Outcome{}, resilience.NewConnectionError(eris.New("httpform: session closed"), "")
	}

	req, err := s.o.formRequest(ctx, variant)
	if err != nil {
		return lookup.Outcome{}, err
	}
	doc, err := s.o.document(req)
	if err != nil {
		return lookup.Outcome{}, err
	}

	if doc.Find(s.o.cfg.CaptchaSelector).Length() > 0 {
		zap.L().Warn("httpform: captcha page, treating variant as not found",
			zap.Int("worker_id", s.workerID),
			zap.String("variant", variant),
		)
		return lookup.Outcome{Text: pageText(doc)}, nil
	}

	text := pageText(doc)
	out := s.o.extractor.Outcome(text)
	if out.Found() {
		return out, nil
	}

	base := req.URL
	followed := 0
	doc.Find("iframe[src], frame[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if followed >= s.o.cfg.MaxFrames {
			return false
		}
		src, _ := sel.Attr("src")
		ref, err := base.Parse(src)
		if err != nil {
			return true
		}
		followed++
		frameReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
		if err != nil {
			return true
		}
		frameDoc, err := s.o.document(frameReq)
		if err != nil {
			zap.L().Debug("httpform: frame fetch failed", zap.String("src", ref.String()), zap.Error(err))
			return true
		}
		frameText := pageText(frameDoc)
		if found := s.o.extractor.Find(frameText); len(found) > 0 {
			out.Candidates = append(out.Candidates, found...)
			out.Text += " " + frameText
		}
		return true
	})
	return out, nil
}

// Close implements lookup.Session.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

func (o *Opener) formRequest(ctx context.Context, variant string) (*http.Request, error) {
	values := url.Values{}
	for k, v := range o.cfg.ExtraParams {
		values.Set(k, v)
	}
	values.Set(o.cfg.QueryParam, variant)

	var (
		req *http.Request
		err error
	)
	if o.cfg.Method == http.MethodGet {
		u, _ := url.Parse(o.cfg.URL)
		q := u.Query()
		for k, vs := range values {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, o.cfg.Method, o.cfg.URL, strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "httpform: create request")
	}
	return req, nil
}

// document performs req under the shared limiter and parses the body.
// Transport failures and gateway statuses are connection errors.
func (o *Opener) document(req *http.Request) (*goquery.Document, error) {
	ctx := req.Context()
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "httpform: rate limiter wait")
	}
	req.Header.Set("User-Agent", o.cfg.UserAgent)

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "httpform: fetch")
		}
		return nil, lookup.ClassifyFailure(eris.Wrap(err, "httpform: fetch"))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		o.limiter.onThrottled()
		return nil, eris.Errorf("httpform: throttled (status %d)", resp.StatusCode)
	case resilience.IsConnectionHTTPStatus(resp.StatusCode):
		return nil, resilience.NewConnectionError(eris.Errorf("httpform: status %d", resp.StatusCode), "")
	case resp.StatusCode >= 400:
		return nil, eris.Errorf("httpform: status %d", resp.StatusCode)
	}
	o.limiter.onSuccess()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, lookup.ClassifyFailure(eris.Wrap(err, "httpform: parse html"))
	}
	return doc, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	body := io.LimitReader(resp.Body, maxBody)
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return body, nil
	}
	cs := params["charset"]
	if cs == "" || strings.EqualFold(cs, "utf-8") {
		return body, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, eris.Wrapf(err, "httpform: unsupported charset %q", cs)
	}
	return enc.NewDecoder().Reader(body), nil
}

// pageText returns the visible text of doc with one space between text
// nodes, so adjacent table cells never run together.
func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	collectText(root, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			b.WriteByte(' ')
			return
		}
		collectText(c, b)
	})
}
