// Package scan runs one complete tag scan: acquire the radio, identify the
// tag, authenticate, read, detect the format and decode. Every scan resolves
// to exactly one spooltag.ScanResult within the configured deadline, and the
// radio is released on every path.
package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/spoolscan/internal/auth"
	"github.com/dyluth/spoolscan/internal/format"
	"github.com/dyluth/spoolscan/internal/hardware"
	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/reader"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Concurrency selects what Scan does while another scan holds the radio.
type Concurrency string

const (
	// ConcurrencyReject returns ReadError("scan already in progress") at once
	ConcurrencyReject Concurrency = "reject"

	// ConcurrencyShare waits for the running scan and returns its result.
	// A scan that has already finished but still holds the radio while
	// abandoned driver calls drain is rejected like ConcurrencyReject.
	ConcurrencyShare Concurrency = "share"
)

// MsgScanInProgress is the ReadError message for a rejected concurrent scan.
const MsgScanInProgress = "scan already in progress"

const (
	DefaultDeadline     = 10 * time.Second
	DefaultDrainTimeout = 2 * time.Second
	publishTimeout      = 5 * time.Second
)

// Config controls a Scanner. Zero values select defaults.
type Config struct {
	Deadline    time.Duration
	Concurrency Concurrency

	// DrainTimeout bounds how long the radio stays reserved after a scan
	// that abandoned driver calls at its deadline.
	DrainTimeout time.Duration

	Policy auth.Policy

	// Secret overrides the built-in key derivation secret.
	Secret []byte
}

func (c Config) withDefaults() Config {
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
	if c.Concurrency == "" {
		c.Concurrency = ConcurrencyReject
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Deadline < 0 {
		return fmt.Errorf("deadline must be positive, got %s", c.Deadline)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must be positive, got %s", c.DrainTimeout)
	}
	switch c.Concurrency {
	case ConcurrencyReject, ConcurrencyShare:
	default:
		return fmt.Errorf("invalid concurrency policy %q (must be %q or %q)", c.Concurrency, ConcurrencyReject, ConcurrencyShare)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid auth policy: %w", err)
	}
	return nil
}

// Publisher receives every finished result.
type Publisher interface {
	Publish(ctx context.Context, result spooltag.ScanResult) error
}

// Option configures optional Scanner collaborators.
type Option func(*Scanner)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// WithObserver registers a state transition observer.
func WithObserver(o Observer) Option {
	return func(s *Scanner) { s.observer = o }
}

// WithPublisher registers a result publisher. Publish failures are logged and
// never change the result.
func WithPublisher(p Publisher) Option {
	return func(s *Scanner) { s.publisher = p }
}

// flight is one running scan that concurrent callers can share.
type flight struct {
	done   chan struct{}
	result spooltag.ScanResult
}

// finished reports whether the result is already available.
func (f *flight) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Scanner owns the radio link and serialises scans over it.
type Scanner struct {
	link      hardware.Link
	cfg       Config
	deriver   *keyderiv.Deriver
	authn     *auth.Authenticator
	reader    *reader.Reader
	detector  *format.Detector
	logger    *slog.Logger
	observer  Observer
	publisher Publisher

	mu      sync.Mutex
	current *flight
	waiters atomic.Int32
}

// New creates a scanner over link.
func New(link hardware.Link, cfg Config, opts ...Option) (*Scanner, error) {
	if link == nil {
		return nil, errors.New("scanner requires a hardware link")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Scanner{link: link, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	base := s.logger
	s.logger = base.With("component", "scanner")

	s.deriver = keyderiv.NewDeriver(cfg.Secret)
	s.authn = auth.New(cfg.Policy, base)
	s.reader = reader.New(base)
	s.detector = format.NewDetector(s.authn.Policy().BambuSectors)
	return s, nil
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Busy reports whether a scan currently holds the radio.
func (s *Scanner) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Scan performs one scan. It never panics and always returns a result that
// passes ScanResult.Validate.
func (s *Scanner) Scan(ctx context.Context) spooltag.ScanResult {
	s.mu.Lock()
	if f := s.current; f != nil {
		s.mu.Unlock()
		if s.cfg.Concurrency == ConcurrencyShare && !f.finished() {
			return s.join(ctx, f)
		}
		s.logger.Info("scan_rejected", "event_type", "scan_rejected", "reason", MsgScanInProgress)
		res := spooltag.ReadError(MsgScanInProgress)
		res.FinalState = spooltag.StateError
		res.StartedAt = time.Now().UTC()
		return res
	}
	f := &flight{done: make(chan struct{})}
	s.current = f
	s.mu.Unlock()

	res, session := s.run(ctx)
	f.result = res
	close(f.done)
	s.settle(f, session)

	s.publish(ctx, res)
	return res
}

// join waits for a running scan and returns its result.
func (s *Scanner) join(ctx context.Context, f *flight) spooltag.ScanResult {
	s.waiters.Add(1)
	defer s.waiters.Add(-1)

	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		res := spooltag.ReadError(fmt.Sprintf("stopped waiting for running scan: %v", ctx.Err()))
		res.FinalState = spooltag.StateError
		return res
	}
}

// settle frees the radio for the next scan. If driver calls were abandoned
// at the deadline the radio stays reserved until they return or
// DrainTimeout passes.
func (s *Scanner) settle(f *flight, session *hardware.Session) {
	release := func() {
		s.mu.Lock()
		if s.current == f {
			s.current = nil
		}
		s.mu.Unlock()
	}

	if session == nil || session.Pending() == 0 {
		release()
		return
	}
	go func() {
		if !session.Drain(s.cfg.DrainTimeout) {
			s.logger.Warn("driver calls still pending after drain timeout",
				"event_type", "drain_timeout", "pending", session.Pending(), "timeout", s.cfg.DrainTimeout)
		}
		release()
	}()
}

// run executes one scan under the deadline and stamps the result metadata.
func (s *Scanner) run(parent context.Context) (res spooltag.ScanResult, session *hardware.Session) {
	scanID := uuid.NewString()
	started := time.Now()
	m := newMachine(scanID, s.observer)
	logger := s.logger.With("scan_id", scanID)

	ctx, cancel := context.WithTimeout(parent, s.cfg.Deadline)
	defer cancel()

	var uid []byte
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scan panicked", "event_type", "scan_panic", "panic", fmt.Sprint(r))
			m.observer = nil
			m.fail()
			res = spooltag.ReadError(fmt.Sprintf("internal error: %v", r))
		}
		if session != nil {
			if err := session.Release(); err != nil {
				logger.Warn("failed to release tag technology", "event_type", "release_failed", "error", err)
			}
		}

		res.ScanID = scanID
		res.FinalState = m.state
		res.StartedAt = started.UTC()
		res.DurationMs = time.Since(started).Milliseconds()
		if len(uid) > 0 {
			res.TagUID = strings.ToUpper(hex.EncodeToString(uid))
		}
		logger.Info("scan_completed",
			"event_type", "scan_completed",
			"result", string(res.Kind),
			"final_state", string(res.FinalState),
			"tag_uid", res.TagUID,
			"duration_ms", res.DurationMs,
			"message", res.Message)
	}()

	logger.Info("scan_started", "event_type", "scan_started", "deadline", s.cfg.Deadline)
	res = s.execute(ctx, m, logger, &session, &uid)
	return res, session
}

// execute walks the state machine. Each step either advances or returns the
// terminal result; the deferred cleanup in run handles release.
func (s *Scanner) execute(ctx context.Context, m *machine, logger *slog.Logger, sessionOut **hardware.Session, uidOut *[]byte) spooltag.ScanResult {
	fail := func(res spooltag.ScanResult) spooltag.ScanResult {
		m.fail()
		return res
	}
	step := func(to spooltag.ScanState) error {
		if err := m.advance(to); err != nil {
			logger.Error("illegal state transition", "event_type", "illegal_transition", "error", err)
			return err
		}
		return nil
	}

	session, err := hardware.Acquire(ctx, s.link)
	*sessionOut = session
	if err != nil {
		return fail(s.readError(ctx, err))
	}

	tag, err := session.GetTag(ctx)
	if err != nil {
		return fail(s.readError(ctx, fmt.Errorf("failed to get tag: %w", err)))
	}
	if tag == nil || len(tag.UID) == 0 {
		logger.Info("no tag in field", "event_type", "no_tag")
		return fail(spooltag.NoTag())
	}
	*uidOut = tag.UID
	logger.Debug("tag detected", "event_type", "tag_detected", "tag_uid", hex.EncodeToString(tag.UID), "tag_type", tag.Type)

	if err := step(spooltag.StateAuthenticating); err != nil {
		return spooltag.ReadError(err.Error())
	}
	keys := s.deriver.DeriveKeys(tag.UID)
	outcome, err := s.authn.Run(ctx, session, keys)
	if err != nil {
		return fail(s.readError(ctx, err))
	}
	logger.Info("authentication finished", "event_type", "authenticated",
		"sectors_authenticated", outcome.AuthenticatedCount(), "attempts", outcome.Attempts)
	if err := s.authn.Check(outcome); err != nil {
		logger.Info("authentication failed", "event_type", "authentication_failed", "error", err)
		return fail(spooltag.AuthenticationFailed())
	}

	if err := step(spooltag.StateReadingData); err != nil {
		return spooltag.ReadError(err.Error())
	}
	img, stats, err := s.reader.Read(ctx, session, outcome)
	if err != nil {
		return fail(s.readError(ctx, err))
	}
	logger.Info("sectors read", "event_type", "sectors_read",
		"blocks_read", stats.BlocksRead, "blocks_failed", stats.BlocksFailed)

	if err := step(spooltag.StateParsingData); err != nil {
		return spooltag.ReadError(err.Error())
	}
	tagFormat := s.detector.Detect(img, outcome)
	logger.Info("format detected", "event_type", "format_detected", "format", string(tagFormat))

	record, err := format.Decode(tagFormat, img, tag.UID)
	switch {
	case errors.Is(err, format.ErrUnrecognized):
		return fail(spooltag.InvalidTag())
	case err != nil:
		return fail(spooltag.ParsingError(err.Error()))
	}

	if err := step(spooltag.StateCompleted); err != nil {
		return spooltag.ReadError(err.Error())
	}
	return spooltag.Success(record)
}

// readError maps hardware and context failures to a ReadError.
func (s *Scanner) readError(ctx context.Context, err error) spooltag.ScanResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return spooltag.ReadError(fmt.Sprintf("scan timed out after %s", s.cfg.Deadline))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return spooltag.ReadError("scan cancelled")
	default:
		return spooltag.ReadError(err.Error())
	}
}

func (s *Scanner) publish(ctx context.Context, res spooltag.ScanResult) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("publisher panicked", "event_type", "publish_panic", "scan_id", res.ScanID, "panic", fmt.Sprint(r))
		}
	}()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, res); err != nil {
		s.logger.Warn("failed to publish scan result", "event_type", "publish_failed", "scan_id", res.ScanID, "error", err)
	}
}
