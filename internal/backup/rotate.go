package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Backups are named by their start timestamp, directories and archives
// alike.
var backupNameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}`)

// TimestampFormat names a backup by its start time
const TimestampFormat = "2006-01-02-15-04-05"

// Rotate removes the oldest backups in dir so that at most max remain.
// max of 0 disables rotation. Returns the removed paths.
func Rotate(dir string, max int) ([]string, error) {
	if max == 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if backupNameRe.MatchString(e.Name()) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}

	// Timestamp names sort chronologically
	sort.Strings(backups)

	if len(backups) <= max {
		return nil, nil
	}

	var removed []string
	for _, path := range backups[:len(backups)-max] {
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to rotate %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
