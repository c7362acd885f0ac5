package services

import "time"

// Progress runs are scheduled at these hours of the local day.
var checkpointHours = [...]int{0, 6, 12, 18}

// Window is the half-open interval (Start, End] of transaction creation
// times handled by one progress run.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

func (w Window) Empty() bool {
	return !w.End.After(w.Start)
}

// LastCheckpoint returns the latest schedule boundary strictly before now,
// evaluated in now's location. A run fired exactly on a boundary therefore
// covers the whole six hours that just ended.
func LastCheckpoint(now time.Time) time.Time {
	y, m, d := now.Date()
	for i := len(checkpointHours) - 1; i >= 0; i-- {
		b := time.Date(y, m, d, checkpointHours[i], 0, 0, 0, now.Location())
		if b.Before(now) {
			return b
		}
	}
	return time.Date(y, m, d-1, checkpointHours[len(checkpointHours)-1], 0, 0, 0, now.Location())
}

// NextCheckpoint returns the first schedule boundary strictly after now.
func NextCheckpoint(now time.Time) time.Time {
	y, m, d := now.Date()
	for _, h := range checkpointHours {
		b := time.Date(y, m, d, h, 0, 0, 0, now.Location())
		if b.After(now) {
			return b
		}
	}
	return time.Date(y, m, d+1, checkpointHours[0], 0, 0, 0, now.Location())
}

// ProgressWindow picks the window for a run ending at asOf. The end of the
// last successful run wins over the fixed schedule so that consecutive runs
// stay contiguous even when one is late or skipped.
func ProgressWindow(asOf time.Time, cursor *time.Time) Window {
	if cursor != nil {
		return Window{Start: cursor.In(asOf.Location()), End: asOf}
	}
	return Window{Start: LastCheckpoint(asOf), End: asOf}
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
