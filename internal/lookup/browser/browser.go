// Package browser drives the lookup form in a real Chrome instance through
// chromedp. Each worker gets its own browser process.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Compile-time interface checks.
var (
	_ lookup.Opener  = (*Opener)(nil)
	_ lookup.Session = (*Session)(nil)
)

// Config controls the browser sessions.
type Config struct {
	URL      string
	Headless bool
	// VisibleWorker runs headed regardless of Headless, for watching one
	// worker. Negative disables it.
	VisibleWorker int
	ExecPath      string

	TabSelector           string
	InputSelector         string
	FallbackInputSelector string
	SubmitSelector        string
	CaptchaSelector       string

	Timeout    time.Duration
	PageWait   time.Duration
	DialogWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.TabSelector == "" {
		c.TabSelector = "#btnPorRazonSocial"
	}
	if c.InputSelector == "" {
		c.InputSelector = "#txtNombreRazonSocial"
	}
	if c.FallbackInputSelector == "" {
		c.FallbackInputSelector = `input[name="search3"]`
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = "#btnAceptar"
	}
	if c.CaptchaSelector == "" {
		c.CaptchaSelector = "#txtCodigo"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PageWait < 0 {
		c.PageWait = 0
	}
	if c.DialogWait <= 0 {
		c.DialogWait = 500 * time.Millisecond
	}
	return c
}

func (c Config) headlessFor(workerID int) bool {
	return c.Headless && workerID != c.VisibleWorker
}

func (c Config) allocatorOptions(workerID int) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-plugins", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	if c.headlessFor(workerID) {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("start-maximized", true))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	return opts
}

// Opener launches one browser per session.
type Opener struct {
	cfg       Config
	extractor *lookup.Extractor
}

// New returns an Opener for cfg.
func New(cfg Config, ex *lookup.Extractor) (*Opener, error) {
	if cfg.URL == "" {
		return nil, eris.New("browser: url is required")
	}
	return &Opener{cfg: cfg.withDefaults(), extractor: ex}, nil
}

// Open starts a browser for workerID and loads a blank page to prove it is
// reachable.
func (o *Opener) Open(ctx context.Context, workerID int) (lookup.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), o.cfg.allocatorOptions(workerID)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         o.cfg,
		extractor:   o.extractor,
		workerID:    workerID,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		dialogs:     make(chan string, 4),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run starts the browser; it must use the long-lived tab
	// context, so the caller's deadline is applied by watching ctx instead.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank"))
	stop()
	if err != nil {
		s.cancel()
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "browser: start")
		}
		return nil, lookup.ClassifyFailure(eris.Wrapf(err, "browser: start worker %d", workerID))
	}

	zap.L().Info("browser: session started",
		zap.Int("worker_id", workerID),
		zap.Bool("headless", o.cfg.headlessFor(workerID)),
	)
	return s, nil
}

// Session is a browser tab owned by one worker.
type Session struct {
	cfg       Config
	extractor *lookup.Extractor
	workerID  int

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	dialogs chan string
	closed  bool
}

func (s *Session) onEvent(ev any) {
	e, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	select {
	case s.dialogs <- e.Message:
	default:
	}
	go func() {
		if err := chromedp.Run(s.tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
			zap.L().Debug("browser: dismiss dialog", zap.Int("worker_id", s.workerID), zap.Error(err))
		}
	}()
}

func (s *Session) drainDialogs() (string, bool) {
	var (
		msg  string
		seen bool
	)
	for {
		select {
		case m := <-s.dialogs:
			msg, seen = m, true
		default:
			return msg, seen
		}
	}
}

// Fetch searches for variant and scans the rendered page, then its frames,
// for candidates. A captcha or a JS dialog after submitting yields no
// candidates so the caller moves on to the next variant.
func (s *Session) Fetch(ctx context.Context, variant string) (lookup.Outcome, error) {
	if s.closed {
		return lookup.Outcome{}, resilience.NewConnectionError(eris.New("browser: session closed"), "invalid session id")
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.Timeout+s.cfg.PageWait+s.cfg.DialogWait)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	out, err := s.search(runCtx, variant)
	if err != nil {
		if ctx.Err() != nil {
			return lookup.Outcome{}, eris.Wrap(ctx.Err(), "browser: fetch")
		}
		return lookup.Outcome{}, lookup.ClassifyFailure(eris.Wrap(err, "browser: fetch"))
	}
	return out, nil
}

func (s *Session) search(ctx context.Context, variant string) (lookup.Outcome, error) {
	s.drainDialogs()

	var input string
	err := chromedp.Run(ctx,
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(clickIfPresent(s.cfg.TabSelector), nil),
		chromedp.Evaluate(firstVisible(s.cfg.InputSelector, s.cfg.FallbackInputSelector), &input),
	)
	if err != nil {
		return lookup.Outcome{}, err
	}
	if input == "" {
		return lookup.Outcome{}, eris.Errorf("search input %s not found", s.cfg.InputSelector)
	}

	var captcha bool
	err = chromedp.Run(ctx,
		chromedp.SetValue(input, "", chromedp.ByQuery),
		chromedp.SendKeys(input, variant, chromedp.ByQuery),
		chromedp.Evaluate(isVisible(s.cfg.CaptchaSelector), &captcha),
	)
	if err != nil {
		return lookup.Outcome{}, err
	}
	if captcha {
		zap.L().Warn("browser: captcha shown, treating variant as not found",
			zap.Int("worker_id", s.workerID),
			zap.String("variant", variant),
		)
		return lookup.Outcome{}, nil
	}

	if err := chromedp.Run(ctx,
		chromedp.Click(s.cfg.SubmitSelector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(s.cfg.DialogWait),
	); err != nil {
		return lookup.Outcome{}, err
	}
	if msg, seen := s.drainDialogs(); seen {
		zap.L().Info("browser: dialog after submit",
			zap.Int("worker_id", s.workerID),
			zap.String("variant", variant),
			zap.String("message", msg),
		)
		return lookup.Outcome{Text: msg}, nil
	}

	var text string
	if err := chromedp.Run(ctx,
		chromedp.Sleep(s.cfg.PageWait),
		chromedp.Evaluate(bodyTextJS, &text),
	); err != nil {
		return lookup.Outcome{}, err
	}
	out := s.extractor.Outcome(text)
	if out.Found() {
		return out, nil
	}

	var frames []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(frameTextJS, &frames)); err != nil {
		return lookup.Outcome{}, err
	}
	for _, ft := range frames {
		if found := s.extractor.Find(ft); len(found) > 0 {
			out.Candidates = append(out.Candidates, found...)
			out.Text += " " + ft
		}
	}
	return out, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := chromedp.Cancel(s.tabCtx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

func (s *Session) cancel() {
	s.tabCancel()
	s.allocCancel()
}

const bodyTextJS = `document.body ? document.body.innerText : ""`

const frameTextJS = `Array.from(document.querySelectorAll("iframe, frame")).map(function (f) {
	try { return f.contentDocument && f.contentDocument.body ? f.contentDocument.body.innerText : ""; }
	catch (e) { return ""; }
})`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func clickIfPresent(sel string) string {
	return fmt.Sprintf(`(function () { var el = document.querySelector(%s); if (el) { el.click(); return true; } return false; })()`, jsString(sel))
}

func isVisible(sel string) string {
	return fmt.Sprintf(`(function () { var el = document.querySelector(%s); return !!(el && el.offsetParent !== null); })()`, jsString(sel))
}

// firstVisible evaluates to the first selector whose element is displayed,
// or "" when none is.
func firstVisible(sels ...string) string {
	list, _ := json.Marshal(sels)
	return fmt.Sprintf(`(function () { var s = %s; for (var i = 0; i < s.length; i++) { var el = document.querySelector(s[i]); if (el && el.offsetParent !== null) { return s[i]; } } return ""; })()`, list)
}
