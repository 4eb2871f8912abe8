package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker() (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(3, time.Minute).WithClock(c.now), c
}

func fail() error { return errBoom }
func ok() error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newBreaker()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do("stripe", fail, nil), errBoom)
		assert.Equal(t, StateClosed, b.State("stripe"))
	}
	assert.ErrorIs(t, b.Do("stripe", fail, nil), errBoom)
	assert.Equal(t, StateOpen, b.State("stripe"))

	called := false
	err := b.Do("stripe", func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newBreaker()

	_ = b.Do("k", fail, nil)
	_ = b.Do("k", fail, nil)
	assert.NoError(t, b.Do("k", ok, nil))
	_ = b.Do("k", fail, nil)
	_ = b.Do("k", fail, nil)
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, c := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("k")
	}

	c.advance(30 * time.Second)
	assert.False(t, b.Allow("k"))

	c.advance(30 * time.Second)
	assert.True(t, b.Allow("k"))
	assert.Equal(t, StateHalfOpen, b.State("k"))
	// only one trial at a time
	assert.False(t, b.Allow("k"))

	b.RecordSuccess("k")
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, c := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("k")
	}
	c.advance(time.Minute)

	assert.ErrorIs(t, b.Do("k", fail, nil), errBoom)
	assert.Equal(t, StateOpen, b.State("k"))

	// cooldown restarts from the failed trial
	c.advance(59 * time.Second)
	assert.False(t, b.Allow("k"))
}

func TestBreaker_CountsFilter(t *testing.T) {
	b, _ := newBreaker()
	clientErr := errors.New("card declined")
	onlyServer := func(err error) bool { return !errors.Is(err, clientErr) }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do("k", func() error { return clientErr }, onlyServer), clientErr)
	}
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("kafka")
	}
	assert.False(t, b.Allow("kafka"))
	assert.True(t, b.Allow("stripe"))
	assert.Equal(t, map[string]State{"kafka": StateOpen}, b.States())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
