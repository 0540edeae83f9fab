package server

import (
	"testing"
	"time"
)

func TestSweeperDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		spec string
		last time.Time
		want bool
	}{
		{"never ran", "@hourly", time.Time{}, true},
		{"hourly not due", "@hourly", now.Add(-30 * time.Minute), false},
		{"hourly due", "@hourly", now.Add(-61 * time.Minute), true},
		{"daily not due", "@daily", now.Add(-23 * time.Hour), false},
		{"daily due", "@daily", now.Add(-25 * time.Hour), true},
		{"cron due", "0 * * * *", now.Add(-2 * time.Hour), true},
		{"cron not due", "0 0 1 1 *", now.Add(-time.Minute), false},
		{"invalid spec falls back hourly", "not-cron", now.Add(-2 * time.Hour), true},
		{"empty spec defaults hourly", "", now.Add(-10 * time.Minute), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &Sweeper{CronSpec: tc.spec, lastRun: tc.last}
			if got := s.due(now); got != tc.want {
				t.Fatalf("due(%s, last=%v) = %v, want %v", tc.spec, tc.last, got, tc.want)
			}
		})
	}
}
