package server

import (
	"testing"
	"time"
)

func TestIsDueHourly(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if !isDue("@hourly", time.Time{}, now) {
		t.Fatalf("first tick must be due")
	}
	if isDue("@hourly", now.Add(-30*time.Minute), now) {
		t.Fatalf("half an hour in is not due")
	}
	if !isDue("@hourly", now.Add(-time.Hour), now) {
		t.Fatalf("an hour in is due")
	}
}

func TestIsDueDaily(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if isDue("@daily", now.Add(-2*time.Hour), now) {
		t.Fatalf("two hours in is not due for @daily")
	}
	if !isDue("@daily", now.Add(-25*time.Hour), now) {
		t.Fatalf("a day in is due")
	}
}

func TestIsDueCronExpr(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 30, 0, time.UTC)
	// Every 5 minutes.
	if !isDue("*/5 * * * *", now.Add(-6*time.Minute), now) {
		t.Fatalf("a boundary passed, refresh is due")
	}
	if isDue("*/5 * * * *", now.Add(-20*time.Second), now) {
		t.Fatalf("no boundary passed yet")
	}
}

func TestIsDueInvalidSpecFallsBackHourly(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if isDue("not a cron spec", now.Add(-30*time.Minute), now) {
		t.Fatalf("invalid spec must behave like @hourly")
	}
	if !isDue("not a cron spec", now.Add(-2*time.Hour), now) {
		t.Fatalf("invalid spec must behave like @hourly")
	}
}
