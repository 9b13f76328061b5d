package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildResultKey returns results/date=YYYY-MM-DD/<execution_id>.<ext>,
// dated in UTC.
func BuildResultKey(executionID, extension string, exportedAt time.Time) (string, error) {
	if err := validatePathComponent(executionID, "execution id"); err != nil {
		return "", err
	}
	extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(extension)), ".")
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}

	ts := exportedAt.UTC()
	return path.Join(
		"results",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		executionID+"."+extension,
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
