package admin

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/speedwar/internal/session"
)

// readinessInterval is the readiness check period when the status log is off.
const readinessInterval = time.Second

// SessionSource supplies registry snapshots.
type SessionSource interface {
	Snapshot() []session.Session
}

// Reporter periodically logs the session list and refreshes the health
// status from a readiness check.
type Reporter struct {
	interval time.Duration
	sessions SessionSource
	logger   *zap.Logger

	health *HealthServer
	ready  func() bool

	quit     chan struct{}
	stopOnce sync.Once
}

// NewReporter creates a Reporter logging every interval. An interval of 0
// disables the log; the readiness check, if any, still runs.
//
// Precondition: sessions and logger must be non-nil; interval >= 0.
func NewReporter(interval time.Duration, sessions SessionSource, logger *zap.Logger) *Reporter {
	return &Reporter{
		interval: interval,
		sessions: sessions,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// WithHealth makes every tick publish ready() to h.
func (r *Reporter) WithHealth(h *HealthServer, ready func() bool) *Reporter {
	r.health = h
	r.ready = ready
	return r
}

// Run ticks until Stop is called.
func (r *Reporter) Run() error {
	period := r.interval
	if period <= 0 {
		if r.health == nil {
			<-r.quit
			return nil
		}
		period = readinessInterval
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	r.Report()
	for {
		select {
		case <-r.quit:
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report performs one tick.
func (r *Reporter) Report() {
	if r.health != nil {
		r.health.SetServing(r.ready())
	}
	if r.interval <= 0 {
		return
	}

	snapshot := r.sessions.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	r.logger.Info("session list",
		zap.Int("count", len(snapshot)),
		zap.Array("sessions", sessionList(snapshot)),
	)
}

// Stop ends Run. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

type sessionList []session.Session

func (l sessionList) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, s := range l {
		if err := enc.AppendObject(sessionEntry(s)); err != nil {
			return err
		}
	}
	return nil
}

type sessionEntry session.Session

func (e sessionEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	s := session.Session(e)
	enc.AddInt16("id", s.ID)
	enc.AddString("name", s.Name)
	enc.AddBool("connected", s.Connected)
	enc.AddString("state", s.State().String())
	enc.AddBool("endpoint_bound", s.Endpoint != nil)
	if s.Room != nil {
		enc.AddInt16("level", s.Room.LevelID)
		enc.AddString("kart", s.Room.KartID)
		enc.AddInt16("room", s.Room.RoomID)
	}
	return nil
}
