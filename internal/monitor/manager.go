// Package monitor runs one timer-driven analysis loop per monitored session.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

const defaultSinkTimeout = 10 * time.Second

// Advisor produces the advisory for one tick. It always returns one.
type Advisor interface {
	Generate(ctx context.Context, in advisory.Input) *advisory.Advisory
}

// Config wires the analysis pipeline. Classifier and Advisor are required.
type Config struct {
	Classifier *risk.Classifier
	Extractor  *transcript.Extractor
	Intervals  risk.IntervalTable
	Retriever  knowledge.Retriever
	Advisor    Advisor
	Accountant *accounting.Accountant

	// Retrieval carries TopK, MinScore and Category; Text is set per tick.
	Retrieval knowledge.Query

	IdleTimeout time.Duration
	SinkTimeout time.Duration
}

// Manager owns every monitored session. Sessions share nothing but the
// read-only pipeline components in Config.
type Manager struct {
	cfg    Config
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	cron     *cron.Cron
}

func NewManager(cfg Config, logger *slog.Logger, sinks ...Sink) *Manager {
	if cfg.Extractor == nil {
		cfg.Extractor = transcript.NewExtractor(0, 0, 0)
	}
	if cfg.Intervals == (risk.IntervalTable{}) {
		cfg.Intervals = risk.DefaultIntervals()
	}
	if cfg.Retriever == nil {
		cfg.Retriever = knowledge.NoopRetriever{}
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		sinks:    sinks,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Start begins monitoring. The session starts GREEN with its first tick one
// GREEN interval away.
func (m *Manager) Start(sessionID string) (Status, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Status{}, errors.New("session id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{}, ErrShuttingDown
	}
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return Status{}, ErrAlreadyMonitoring
	}
	s := &session{
		id:         sessionID,
		run:        uuid.New().String(),
		transcript: transcript.New(),
		startedAt:  m.now(),
		state:      StateIdle,
		level:      risk.Green,
		assessment: risk.Assessment{Level: risk.Green},
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	s.mu.Lock()
	m.arm(s, m.cfg.Intervals.For(risk.Green))
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.logger.Info("monitoring started", "session_id", sessionID, "run_id", s.run)
	return m.statusOf(s), nil
}

// Stop ends monitoring. A pending tick is cancelled; a tick in flight is
// allowed to finish and its result is discarded. The id may be started again
// at once; the new run shares nothing with the draining one.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.stop(ctx, s, "requested")
	return nil
}

// Append adds an utterance to the session's transcript. It never triggers
// analysis; the next tick sees it.
func (m *Manager) Append(sessionID, role, text string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.transcript.Append(role, text)
	return nil
}

// Status returns the session's current state.
func (m *Manager) Status(sessionID string) (Status, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	return m.statusOf(s), nil
}

// Sessions returns the status of every monitored session, ordered by id.
func (m *Manager) Sessions() []Status {
	m.mu.Lock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, s := range list {
		out = append(out, m.statusOf(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Analyze runs a tick now instead of waiting for the timer. The pending
// timer is cancelled and re-armed from the tick's result. If ctx ends first
// the tick still completes and is applied.
func (m *Manager) Analyze(ctx context.Context, sessionID string) (Event, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Event{}, ErrSessionNotFound
	}
	if s.state == StateAnalyzing {
		s.mu.Unlock()
		return Event{}, ErrBusy
	}
	if !m.beginTick() {
		s.mu.Unlock()
		return Event{}, ErrShuttingDown
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateAnalyzing
	s.mu.Unlock()

	type result struct {
		evt Event
		ok  bool
	}
	done := make(chan result, 1)
	go func() {
		evt, ok := m.tick(s)
		done <- result{evt, ok}
	}()

	select {
	case r := <-done:
		if !r.ok {
			return Event{}, ErrSessionNotFound
		}
		return r.evt, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Shutdown stops every session and waits for in-flight ticks until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.sessions = make(map[string]*session)
	c := m.cron
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, s := range list {
		m.stop(ctx, s, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight ticks: %w", ctx.Err())
	}
}

// StartReaper stops sessions idle for longer than the configured idle
// timeout, checking on the given cron schedule.
func (m *Manager) StartReaper(schedule string) error {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.reapIdle(m.ctx) }); err != nil {
		return fmt.Errorf("schedule idle reaper %q: %w", schedule, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.cron = c
	m.mu.Unlock()

	c.Start()
	m.logger.Info("idle reaper started", "schedule", schedule, "idle_timeout", m.cfg.IdleTimeout.String())
	return nil
}

func (m *Manager) reapIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*session
	for id, s := range m.sessions {
		if s.lastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.stop(ctx, s, "idle")
	}
	return len(idle)
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) statusOf(s *session) Status {
	st := s.status()
	if m.cfg.Accountant != nil {
		st.Cost = m.cfg.Accountant.Totals(s.run)
	}
	return st
}

// arm schedules the next tick. Caller holds s.mu.
func (m *Manager) arm(s *session, d time.Duration) {
	s.gen++
	gen := s.gen
	s.state = StateScheduled
	s.interval = d
	s.nextAt = m.now().Add(d)
	s.timer = time.AfterFunc(d, func() { m.fire(s, gen) })
}

func (m *Manager) fire(s *session, gen uint64) {
	s.mu.Lock()
	if s.stopped || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.state == StateAnalyzing {
		// The running tick re-arms the timer when it completes.
		s.deferred++
		s.mu.Unlock()
		m.logger.Debug("tick deferred, analysis in flight", "session_id", s.id)
		return
	}
	if !m.beginTick() {
		s.mu.Unlock()
		return
	}
	s.state = StateAnalyzing
	s.timer = nil
	s.mu.Unlock()

	m.tick(s)
}

func (m *Manager) beginTick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// tick runs one analysis. The caller has moved s to ANALYZING and counted the
// tick in m.wg. It reports false when the session was stopped before the
// result reached any sink.
func (m *Manager) tick(s *session) (Event, bool) {
	defer m.wg.Done()
	ctx := m.ctx

	w := m.cfg.Extractor.Extract(s.transcript.Snapshot())
	a := m.cfg.Classifier.Classify(w)

	q := m.cfg.Retrieval
	q.Text = w.Text
	passages, err := m.cfg.Retriever.Retrieve(ctx, q)
	if err != nil {
		m.logger.Warn("retrieval failed, generating ungrounded", "session_id", s.id, "error", err)
		passages = nil
	}

	adv := m.cfg.Advisor.Generate(ctx, advisory.Input{
		SessionID:  s.id,
		CacheKey:   s.run,
		Window:     w,
		Assessment: a,
		Passages:   passages,
	})
	next := m.cfg.Intervals.For(a.Level)
	now := m.now().UTC()

	s.mu.Lock()
	if s.stopped {
		s.state = StateIdle
		s.mu.Unlock()
		m.logger.Info("session stopped during analysis, result discarded", "session_id", s.id, "level", a.Level)
		m.finish(s)
		return Event{}, false
	}
	prev := s.level
	s.level = a.Level
	s.assessment = a
	s.interval = next
	s.ticks++
	s.lastTickAt = now
	s.last = adv
	n := s.ticks
	s.mu.Unlock()

	metrics.TicksTotal.WithLabelValues(string(a.Level)).Inc()
	if prev != a.Level {
		metrics.LevelTransitionsTotal.WithLabelValues(string(prev), string(a.Level)).Inc()
		m.logger.Info("risk level changed",
			"session_id", s.id,
			"from", prev,
			"to", a.Level,
			"matched_keyword", a.MatchedKeyword,
		)
	}

	evt := Event{
		SessionID:           s.id,
		RunID:               s.run,
		Level:               a.Level,
		PreviousLevel:       prev,
		MatchedKeyword:      a.MatchedKeyword,
		PositiveKeyword:     a.PositiveKeyword,
		Advisory:            adv,
		NextIntervalSeconds: int(next.Seconds()),
		WindowMode:          w.Mode,
		WindowTurns:         w.TurnCount,
		Tick:                n,
		At:                  now,
	}
	m.logger.Info("tick complete",
		"session_id", s.id,
		"tick", n,
		"level", a.Level,
		"matched_keyword", a.MatchedKeyword,
		"fallback", adv.Fallback,
		"next_interval_s", evt.NextIntervalSeconds,
	)
	delivered := m.emit(s, evt)

	s.mu.Lock()
	if s.stopped {
		s.state = StateIdle
		s.mu.Unlock()
		m.finish(s)
		return evt, delivered
	}
	m.arm(s, next)
	s.mu.Unlock()
	return evt, true
}

// emit hands e to the sinks in order and stops as soon as the session is
// stopped. It reports false when the stop came before any sink saw e.
func (m *Manager) emit(s *session, e Event) bool {
	for i, sink := range m.sinks {
		if s.isStopped() {
			m.logger.Info("session stopped before delivery, result discarded",
				"session_id", e.SessionID, "sink", sink.Name(), "delivered", i)
			return i > 0
		}
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SinkTimeout)
		err := sink.Emit(ctx, e)
		cancel()
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			m.logger.Warn("advisory sink failed", "sink", sink.Name(), "session_id", e.SessionID, "error", err)
		}
	}
	return true
}

func (m *Manager) stop(ctx context.Context, s *session, reason string) {
	s.mu.Lock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	inFlight := s.state == StateAnalyzing
	if !inFlight {
		s.state = StateIdle
	}
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	m.logger.Info("monitoring stopped", "session_id", s.id, "reason", reason, "in_flight", inFlight)

	// An in-flight tick may still settle against the cache handle; it
	// releases the session itself when it completes.
	if !inFlight {
		m.finishCtx(ctx, s)
	}
}

func (m *Manager) finish(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.finishCtx(ctx, s)
}

// finishCtx releases what the run owned. Everything is keyed by the run, so
// a later run of the same session id is untouched.
func (m *Manager) finishCtx(ctx context.Context, s *session) {
	if m.cfg.Accountant != nil {
		m.cfg.Accountant.Release(ctx, s.run)
	}
	for _, sink := range m.sinks {
		if c, ok := sink.(SessionCloser); ok {
			c.SessionStopped(s.id, s.run)
		}
	}
}
