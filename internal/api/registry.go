package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/loader"
	"github.com/xkazm04/course-sub000/internal/service"
	"github.com/xkazm04/course-sub000/internal/syncstore"
	"github.com/xkazm04/course-sub000/internal/upstream"
)

// Session bundles the per-client engine state: the map service, the
// node-status store and its poller.
type Session struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`

	Service *service.MapService `json:"-"`
	Sync    *syncstore.Store    `json:"-"`
	Poller  *syncstore.Poller   `json:"-"`

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch records client activity for idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the last recorded activity time.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionRegistryConfig contains session registry configuration.
type SessionRegistryConfig struct {
	MaxSessions  int           // refuse new sessions past this (default 256)
	IdleTTL      time.Duration // sessions idle this long are reaped (default 30m)
	SweepPeriod  time.Duration // reaper interval (default 1m)
	PollInterval time.Duration // generation-status poll cadence (default per syncstore)
	Upstream     *upstream.Client
	Loader       *loader.Loader
	Persister    syncstore.Persister
	EngineConfig service.MapServiceConfig // template; canvas size overridden per session
	Logger       *zap.Logger
}

// SessionRegistry owns all live sessions and their lifecycle.
type SessionRegistry struct {
	cfg SessionRegistryConfig
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSessionRegistry creates a registry and starts its idle reaper.
func NewSessionRegistry(cfg SessionRegistryConfig) *SessionRegistry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &SessionRegistry{
		cfg:      cfg,
		log:      log.Named("sessions"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go r.reaper()
	return r
}

// Create opens a new session for a domain and canvas size.
func (r *SessionRegistry) Create(domain string, canvasW, canvasH float64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", r.cfg.MaxSessions)
	}

	id := uuid.NewString()
	engineCfg := r.cfg.EngineConfig
	engineCfg.Domain = domain
	engineCfg.CanvasWidth = canvasW
	engineCfg.CanvasHeight = canvasH
	engineCfg.Loader = r.cfg.Loader
	engineCfg.Logger = r.log

	store := syncstore.NewStore(syncstore.Config{
		PersistKey: id,
		Persister:  r.cfg.Persister,
		Logger:     r.log,
	})
	var poller *syncstore.Poller
	if r.cfg.Upstream != nil {
		poller = syncstore.NewPoller(syncstore.PollerConfig{
			Interval: r.cfg.PollInterval,
			Logger:   r.log,
		}, store, r.cfg.Upstream)
	}

	sess := &Session{
		ID:        id,
		Domain:    domain,
		CreatedAt: time.Now(),
		Service:   service.NewMapService(engineCfg),
		Sync:      store,
		Poller:    poller,
		lastSeen:  time.Now(),
	}
	r.sessions[id] = sess
	r.log.Info("session created", zap.String("session_id", id), zap.String("domain", domain))
	return sess, nil
}

// Get returns the session for id, or nil.
func (r *SessionRegistry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Close tears down one session.
func (r *SessionRegistry) Close(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.teardown(sess)
	r.log.Info("session closed", zap.String("session_id", id))
	return true
}

// List returns all live sessions.
func (r *SessionRegistry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the live session count.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops the reaper and tears down every session.
func (r *SessionRegistry) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.teardown(s)
	}
}

func (r *SessionRegistry) teardown(s *Session) {
	if s.Poller != nil {
		s.Poller.Stop()
	}
	s.Service.Close()
}

func (r *SessionRegistry) reaper() {
	ticker := time.NewTicker(r.cfg.SweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.cfg.IdleTTL)
			var expired []string
			r.mu.RLock()
			for id, s := range r.sessions {
				if s.LastSeen().Before(cutoff) {
					expired = append(expired, id)
				}
			}
			r.mu.RUnlock()
			for _, id := range expired {
				if r.Close(id) {
					r.log.Info("idle session reaped", zap.String("session_id", id))
				}
			}
		}
	}
}
