package client_test

import (
	"testing"
	"time"

	"github.com/blukai/climbparty/internal/client"
	"github.com/matryer/is"
)

func TestScheduleFixedRate(t *testing.T) {
	is := is.New(t)

	s := client.NewSchedule(30)
	interval := time.Second / 30
	is.Equal(s.Interval(), interval)

	is.True(s.Due(start))
	is.Equal(s.Next(), start.Add(interval))

	is.True(!s.Due(start.Add(interval - time.Nanosecond)))
	is.True(s.Due(start.Add(interval)))
	is.Equal(s.Next(), start.Add(2*interval))
}

func TestScheduleJitterDoesNotAccumulate(t *testing.T) {
	is := is.New(t)

	s := client.NewSchedule(30)
	interval := s.Interval()
	is.True(s.Due(start))

	// each call lands a little late, the schedule stays on the grid
	for i := 1; i <= 10; i++ {
		late := start.Add(time.Duration(i)*interval + 5*time.Millisecond)
		is.True(s.Due(late))
		is.Equal(s.Next(), start.Add(time.Duration(i+1)*interval))
	}
}

func TestScheduleResyncsAfterStall(t *testing.T) {
	is := is.New(t)

	s := client.NewSchedule(30)
	interval := s.Interval()
	is.True(s.Due(start))

	stalled := start.Add(10 * interval)
	is.True(s.Due(stalled))
	is.Equal(s.Next(), stalled.Add(interval))

	// no burst
	is.True(!s.Due(stalled.Add(time.Millisecond)))
}

func TestScheduleReset(t *testing.T) {
	is := is.New(t)

	s := client.NewSchedule(30)
	is.True(s.Due(start))
	s.Reset()
	is.True(s.Next().IsZero())

	is.True(s.Due(start.Add(time.Millisecond)))
	is.Equal(s.Next(), start.Add(time.Millisecond+s.Interval()))
}
