package client

import (
	"time"
)

// Schedule paces outbound movement at a fixed rate. Each send moves the next
// send time forward by exactly one interval from the previous scheduled time,
// so jitter in when Due gets called does not accumulate.
type Schedule struct {
	interval time.Duration
	next     time.Time
}

func NewSchedule(rate int) *Schedule {
	if rate <= 0 {
		rate = 1
	}
	return &Schedule{interval: time.Second / time.Duration(rate)}
}

func (s *Schedule) Interval() time.Duration { return s.interval }

// Next is the earliest time Due will report true. Zero until the first send.
func (s *Schedule) Next() time.Time { return s.next }

// Due reports whether a send is allowed at now and, if so, advances the
// schedule.
func (s *Schedule) Due(now time.Time) bool {
	if s.next.IsZero() {
		s.next = now
	}
	if now.Before(s.next) {
		return false
	}

	s.next = s.next.Add(s.interval)
	// a stall of more than a whole tick resyncs instead of bursting to
	// catch up
	if !s.next.After(now) {
		s.next = now.Add(s.interval)
	}
	return true
}

// Reset makes the next call to Due send immediately and anchor the schedule.
func (s *Schedule) Reset() {
	s.next = time.Time{}
}
