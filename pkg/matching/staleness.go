package matching

import (
	"time"
)

// StalenessWindows holds the two optional age thresholds that decide whether
// cached provider data is fresh enough to skip a re-fetch.
type StalenessWindows struct {
	MaxAgeDays          *float64
	RefreshIntervalDays *float64
}

// ShouldSkipFetch reports whether a record synced at lastSyncedAt is still
// fresh: skip iff (max age is set and age <= max age) or (refresh interval is
// set and age <= refresh interval). A nil lastSyncedAt always fetches.
// Timestamps without a location are treated as UTC.
func ShouldSkipFetch(lastSyncedAt *time.Time, windows StalenessWindows, now time.Time) bool {
	if lastSyncedAt == nil {
		return false
	}

	synced := *lastSyncedAt
	if synced.Location() == time.Local {
		synced = time.Date(synced.Year(), synced.Month(), synced.Day(),
			synced.Hour(), synced.Minute(), synced.Second(), synced.Nanosecond(), time.UTC)
	}

	ageDays := now.UTC().Sub(synced).Hours() / 24

	if windows.MaxAgeDays != nil && ageDays <= *windows.MaxAgeDays {
		return true
	}
	if windows.RefreshIntervalDays != nil && ageDays <= *windows.RefreshIntervalDays {
		return true
	}
	return false
}
