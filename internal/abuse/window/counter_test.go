package window

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CounterSuite struct {
	suite.Suite
	counter *Counter
	ctx     context.Context
	base    time.Time
}

func TestCounterSuite(t *testing.T) {
	suite.Run(t, new(CounterSuite))
}

func (s *CounterSuite) SetupTest() {
	s.counter = New()
	s.ctx = context.Background()
	s.base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func (s *CounterSuite) TestRecordReturnsInWindowCount() {
	for i := range 5 {
		n, err := s.counter.Record(s.ctx, "k", s.base.Add(time.Duration(i)*time.Second), time.Minute)
		s.Require().NoError(err)
		s.Equal(i+1, n)
	}
}

func (s *CounterSuite) TestCountNeverExceedsRecorded() {
	const events = 25
	for i := range events {
		_, _ = s.counter.Record(s.ctx, "k", s.base.Add(time.Duration(i)*time.Second), 5*time.Minute)
	}
	n, err := s.counter.Count(s.ctx, "k", s.base.Add(events*time.Second), 5*time.Minute)
	s.NoError(err)
	s.Equal(events, n)
}

func (s *CounterSuite) TestBoundaryIsHalfOpen() {
	window := 5 * time.Minute
	_, _ = s.counter.Record(s.ctx, "k", s.base, window)

	s.Run("just inside the window counts", func() {
		n, _ := s.counter.Count(s.ctx, "k", s.base.Add(window-time.Nanosecond), window)
		s.Equal(1, n)
	})

	s.Run("exactly window old is evicted", func() {
		n, _ := s.counter.Count(s.ctx, "k", s.base.Add(window), window)
		s.Equal(0, n)
	})
}

func (s *CounterSuite) TestOnlyRecentEventsCounted() {
	window := time.Minute
	_, _ = s.counter.Record(s.ctx, "k", s.base, window)
	_, _ = s.counter.Record(s.ctx, "k", s.base.Add(30*time.Second), window)
	_, _ = s.counter.Record(s.ctx, "k", s.base.Add(70*time.Second), window)

	n, _ := s.counter.Count(s.ctx, "k", s.base.Add(75*time.Second), window)
	s.Equal(2, n, "events at +30s and +70s are within 60s of +75s")
}

func (s *CounterSuite) TestOutOfOrderRecords() {
	window := time.Minute
	_, _ = s.counter.Record(s.ctx, "k", s.base.Add(10*time.Second), window)
	_, _ = s.counter.Record(s.ctx, "k", s.base.Add(5*time.Second), window)
	_, _ = s.counter.Record(s.ctx, "k", s.base.Add(20*time.Second), window)

	n, _ := s.counter.Count(s.ctx, "k", s.base.Add(66*time.Second), window)
	s.Equal(2, n, "the +5s event expires first even though it arrived second")
}

func (s *CounterSuite) TestKeysAreIndependent() {
	_, _ = s.counter.Record(s.ctx, "a", s.base, time.Minute)
	n, _ := s.counter.Count(s.ctx, "b", s.base, time.Minute)
	s.Zero(n)
}

func (s *CounterSuite) TestReset() {
	_, _ = s.counter.Record(s.ctx, "k", s.base, time.Minute)
	s.NoError(s.counter.Reset(s.ctx, "k"))
	n, _ := s.counter.Count(s.ctx, "k", s.base, time.Minute)
	s.Zero(n)
	s.Zero(s.counter.Len())
}

func (s *CounterSuite) TestSweepDropsIdleKeys() {
	_, _ = s.counter.Record(s.ctx, "idle", s.base, time.Minute)
	_, _ = s.counter.Record(s.ctx, "busy", s.base.Add(50*time.Minute), time.Minute)

	removed := s.counter.Sweep(s.base.Add(60*time.Minute), 60*time.Minute)
	s.Equal(1, removed)
	s.Equal(1, s.counter.Len())
}

func (s *CounterSuite) TestConcurrentRecords() {
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for j := range 20 {
				_, _ = s.counter.Record(s.ctx, fmt.Sprintf("p%d", i%5), s.base.Add(time.Duration(j)*time.Millisecond), time.Minute)
			}
		})
	}
	wg.Wait()

	total := 0
	for i := range 5 {
		n, _ := s.counter.Count(s.ctx, fmt.Sprintf("p%d", i), s.base.Add(time.Second), time.Minute)
		total += n
	}
	s.Equal(50*20, total)
}
