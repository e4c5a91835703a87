package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildRunPath places a run archive under its UTC start day and hour.
func BuildRunPath(modelID string, startedAt time.Time, runID string) (string, error) {
	model := strings.NewReplacer(":", "-", "/", "-").Replace(strings.TrimSpace(modelID))
	if err := validatePathComponent(model, "model id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	if startedAt.IsZero() {
		return "", fmt.Errorf("run start time is required")
	}
	ts := startedAt.UTC()
	return path.Join(DayPrefix(ts), fmt.Sprintf("hour=%02d", ts.Hour()), model, "run-"+runID+".parquet"), nil
}

// DayPrefix is the key prefix shared by every run started on day (UTC).
func DayPrefix(day time.Time) string {
	ts := day.UTC()
	return fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day())
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
