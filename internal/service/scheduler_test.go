package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerCoalescesBursts(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(20*time.Millisecond, func() { calls.Add(1) })
	defer s.Stop()

	for i := 0; i < 10; i++ {
		s.Trigger()
	}
	// One immediate call plus at most one trailing call for the burst.
	time.Sleep(60 * time.Millisecond)
	got := calls.Load()
	assert.GreaterOrEqual(t, got, int64(2), "trailing edge must flush the burst")
	assert.LessOrEqual(t, got, int64(3))
}

func TestSchedulerRunsImmediatelyWhenIdle(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(20*time.Millisecond, func() { calls.Add(1) })
	defer s.Stop()

	s.Trigger()
	assert.Equal(t, int64(1), calls.Load(), "idle trigger runs synchronously")
}

func TestSchedulerStopCancelsTrailing(t *testing.T) {
	var calls atomic.Int64
	s := NewScheduler(50*time.Millisecond, func() { calls.Add(1) })

	s.Trigger()
	s.Trigger() // arms a trailing run
	s.Stop()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())

	s.Trigger()
	assert.Equal(t, int64(1), calls.Load(), "triggers after Stop are ignored")
}
