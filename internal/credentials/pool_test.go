package credentials

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQuota = errors.New("quota exceeded")

func isQuota(err error) bool {
	return err != nil && strings.Contains(err.Error(), "quota")
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(keys ...string) (*Pool, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewPool(keys, &config.CredentialsConfig{FailureThreshold: 3, Cooldown: time.Minute}, isQuota, slog.Default())
	p.now = clock.now
	return p, clock
}

func acquireKey(t *testing.T, p *Pool) Credential {
	t.Helper()
	c, err := p.Acquire()
	require.NoError(t, err)
	return c
}

func TestNewSource(t *testing.T) {
	cfg := &config.CredentialsConfig{FailureThreshold: 3, Cooldown: time.Minute}

	_, err := NewSource(nil, cfg, isQuota, slog.Default())
	assert.ErrorIs(t, err, ErrNoAvailableCredential)

	src, err := NewSource([]string{"only"}, cfg, isQuota, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &Static{}, src)

	src, err = NewSource([]string{"a", "b"}, cfg, isQuota, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &Pool{}, src)
}

func TestStatic(t *testing.T) {
	s := NewStatic("key")
	for i := 0; i < 5; i++ {
		c, err := s.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "key", c.Key)
		s.ReportFailure(c, errQuota)
	}

	_, err := NewStatic("").Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableCredential)
}

func TestPool_SticksWithHealthyKey(t *testing.T) {
	p, _ := newTestPool("a", "b", "c")

	for i := 0; i < 3; i++ {
		c := acquireKey(t, p)
		assert.Equal(t, "a", c.Key)
		p.ReportSuccess(c)
	}
}

func TestPool_FailureAdvancesCursor(t *testing.T) {
	p, _ := newTestPool("a", "b", "c")

	c := acquireKey(t, p)
	p.ReportFailure(c, errors.New("502 bad gateway"))
	assert.Equal(t, "b", acquireKey(t, p).Key)

	c = acquireKey(t, p)
	p.ReportFailure(c, errors.New("timeout"))
	assert.Equal(t, "c", acquireKey(t, p).Key)

	c = acquireKey(t, p)
	p.ReportFailure(c, errors.New("timeout"))
	assert.Equal(t, "a", acquireKey(t, p).Key, "wraps around")
}

func TestPool_ThresholdBenchesKeyUntilCooldown(t *testing.T) {
	p, clock := newTestPool("a", "b")
	a := Credential{Key: "a", Slot: 0}

	for i := 0; i < 3; i++ {
		p.ReportFailure(a, errors.New("503"))
	}

	for i := 0; i < 6; i++ {
		c := acquireKey(t, p)
		assert.Equal(t, "b", c.Key, "benched key must not be returned before cooldown")
		p.ReportSuccess(c)
	}
	available, total := p.Snapshot()
	assert.Equal(t, 1, available)
	assert.Equal(t, 2, total)

	clock.advance(59 * time.Second)
	assert.Equal(t, "b", acquireKey(t, p).Key)

	clock.advance(time.Second)
	p.ReportFailure(Credential{Key: "b", Slot: 1}, errors.New("503"))
	assert.Equal(t, "a", acquireKey(t, p).Key, "cooled down key is eligible again")
}

func TestPool_QuotaBenchesImmediately(t *testing.T) {
	p, _ := newTestPool("a", "b")

	c := acquireKey(t, p)
	p.ReportFailure(c, errQuota)

	for i := 0; i < 4; i++ {
		assert.Equal(t, "b", acquireKey(t, p).Key)
	}
}

func TestPool_AllBenched(t *testing.T) {
	p, clock := newTestPool("a", "b")
	p.ReportFailure(Credential{Key: "a", Slot: 0}, errQuota)
	p.ReportFailure(Credential{Key: "b", Slot: 1}, errQuota)

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableCredential)

	clock.advance(time.Minute)
	_, err = p.Acquire()
	assert.NoError(t, err)
}

func TestPool_SuccessResetsFailureCount(t *testing.T) {
	p, _ := newTestPool("a", "b")
	a := Credential{Key: "a", Slot: 0}

	p.ReportFailure(a, errors.New("503"))
	p.ReportFailure(a, errors.New("503"))
	p.ReportSuccess(a)
	p.ReportFailure(a, errors.New("503"))
	p.ReportFailure(a, errors.New("503"))

	available, _ := p.Snapshot()
	assert.Equal(t, 2, available)
}

func TestPool_IgnoresForeignCredential(t *testing.T) {
	p, _ := newTestPool("a", "b")
	p.ReportFailure(Credential{Key: "zzz", Slot: 0}, errQuota)
	p.ReportSuccess(Credential{Key: "a", Slot: 9})

	assert.Equal(t, "a", acquireKey(t, p).Key)
}
