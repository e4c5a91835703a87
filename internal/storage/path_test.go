package storage

import (
	"testing"
	"time"
)

func TestBuildRunPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildRunPath("anthropic.claude-v2:1", ts, "0b9f7c1e-3c1a-4a55-9e0f-4d0c1c7d2a10")
	if err != nil {
		t.Fatalf("BuildRunPath() error = %v", err)
	}
	want := "date=2026-02-19/hour=09/anthropic.claude-v2-1/run-0b9f7c1e-3c1a-4a55-9e0f-4d0c1c7d2a10.parquet"
	if key != want {
		t.Fatalf("BuildRunPath() = %q, want %q", key, want)
	}
}

func TestBuildRunPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildRunPath("../oops", time.Now(), "run-1"); err == nil {
		t.Fatal("expected invalid model error")
	}
	if _, err := BuildRunPath("anthropic.claude-v2", time.Now(), ""); err == nil {
		t.Fatal("expected invalid run id error")
	}
	if _, err := BuildRunPath("anthropic.claude-v2", time.Time{}, "run-1"); err == nil {
		t.Fatal("expected missing start time error")
	}
}

func TestDayPrefix(t *testing.T) {
	got := DayPrefix(time.Date(2026, time.October, 16, 23, 30, 0, 0, time.FixedZone("x", -2*3600)))
	if got != "date=2026-10-17" {
		t.Fatalf("DayPrefix() = %q", got)
	}
}
