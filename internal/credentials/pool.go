// Package credentials rotates generation provider API keys.
package credentials

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/reelforge-backend/internal/config"
)

var ErrNoAvailableCredential = errors.New("no provider credential available")

// Credential is a key handed out by a Source. Slot identifies it in the pool
// so reports land on the key that was actually used.
type Credential struct {
	Key  string
	Slot int
}

// Source hands out credentials and receives the outcome of using them
type Source interface {
	Acquire() (Credential, error)
	ReportSuccess(c Credential)
	ReportFailure(c Credential, err error)
}

// QuotaDetector reports whether err means the key ran out of quota
type QuotaDetector func(err error) bool

// NewSource returns a rotating Pool for two or more keys and a Static source otherwise
func NewSource(keys []string, cfg *config.CredentialsConfig, isQuota QuotaDetector, logger *slog.Logger) (Source, error) {
	switch len(keys) {
	case 0:
		return nil, ErrNoAvailableCredential
	case 1:
		return NewStatic(keys[0]), nil
	}
	return NewPool(keys, cfg, isQuota, logger), nil
}

// Static always returns the same key
type Static struct {
	key string
}

func NewStatic(key string) *Static {
	return &Static{key: key}
}

func (s *Static) Acquire() (Credential, error) {
	if s.key == "" {
		return Credential{}, ErrNoAvailableCredential
	}
	return Credential{Key: s.key}, nil
}

func (s *Static) ReportSuccess(Credential)        {}
func (s *Static) ReportFailure(Credential, error) {}

type slot struct {
	key                 string
	available           bool
	consecutiveFailures int
	lastFailure         time.Time
	lastSuccess         time.Time
}

// Pool hands out keys from a cursor that only moves on failure: a healthy key
// keeps being returned, and every ReportFailure advances the cursor to the next
// key. Usage is therefore not spread evenly across healthy keys. A key is
// benched after repeated failures or a quota signal until the cooldown since
// its last failure has passed.
type Pool struct {
	mu        sync.Mutex
	slots     []*slot
	cursor    int
	threshold int
	cooldown  time.Duration
	isQuota   QuotaDetector
	now       func() time.Time
	logger    *slog.Logger
}

func NewPool(keys []string, cfg *config.CredentialsConfig, isQuota QuotaDetector, logger *slog.Logger) *Pool {
	slots := make([]*slot, len(keys))
	for i, k := range keys {
		slots[i] = &slot{key: k, available: true}
	}
	if isQuota == nil {
		isQuota = func(error) bool { return false }
	}
	return &Pool{
		slots:     slots,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		isQuota:   isQuota,
		now:       time.Now,
		logger:    logger,
	}
}

// Acquire returns the first available key at or after the cursor. It does
// not move the cursor past the key it returns.
func (p *Pool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, s := range p.slots {
		if !s.available && now.Sub(s.lastFailure) >= p.cooldown {
			s.available = true
			s.consecutiveFailures = 0
		}
	}

	for i := 0; i < len(p.slots); i++ {
		idx := (p.cursor + i) % len(p.slots)
		if p.slots[idx].available {
			p.cursor = idx
			return Credential{Key: p.slots[idx].key, Slot: idx}, nil
		}
	}
	return Credential{}, ErrNoAvailableCredential
}

func (p *Pool) ReportSuccess(c Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slot(c)
	if !ok {
		return
	}
	s.consecutiveFailures = 0
	s.available = true
	s.lastSuccess = p.now()
}

// ReportFailure always moves the cursor past the failing slot
func (p *Pool) ReportFailure(c Credential, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slot(c)
	if !ok {
		return
	}
	s.consecutiveFailures++
	s.lastFailure = p.now()

	quota := p.isQuota(err)
	if s.available && (quota || s.consecutiveFailures >= p.threshold) {
		s.available = false
		p.logger.Warn("Provider credential benched",
			"slot", c.Slot,
			"consecutive_failures", s.consecutiveFailures,
			"quota_exhausted", quota,
			"cooldown", p.cooldown.String(),
		)
	}
	p.cursor = (c.Slot + 1) % len(p.slots)
}

// Snapshot returns how many keys are eligible right now and the pool size
func (p *Pool) Snapshot() (available, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, s := range p.slots {
		if s.available || now.Sub(s.lastFailure) >= p.cooldown {
			available++
		}
	}
	return available, len(p.slots)
}

func (p *Pool) slot(c Credential) (*slot, bool) {
	if c.Slot < 0 || c.Slot >= len(p.slots) || p.slots[c.Slot].key != c.Key {
		return nil, false
	}
	return p.slots[c.Slot], true
}
