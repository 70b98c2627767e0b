package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EmailSchedule is the persisted reminder configuration, read on each
// invocation of the reminder command so edits take effect without a restart.
type EmailSchedule struct {
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	Timezone  string `json:"timezone"`
	Frequency string `json:"frequency"` // daily or weekly

	// PendingOlderThanHours filters which PENDING requisitions trigger a
	// reminder to their approvers.
	PendingOlderThanHours int `json:"pending_older_than_hours"`

	// Roles limits reminder recipients; empty means managers only.
	Roles []string `json:"roles"`

	// IncludeRetrySweep runs the failed-email retry pass after reminders.
	IncludeRetrySweep bool `json:"include_retry_sweep"`
}

// DefaultEmailSchedule is used when the schedule file is absent.
func DefaultEmailSchedule() EmailSchedule {
	return EmailSchedule{
		Hour:                  9,
		Minute:                0,
		Timezone:              "Asia/Bangkok",
		Frequency:             "daily",
		PendingOlderThanHours: 24,
		IncludeRetrySweep:     true,
	}
}

// LoadEmailSchedule reads the schedule JSON from path, falling back to the
// hardcoded default when the file does not exist.
func LoadEmailSchedule(path string) (EmailSchedule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultEmailSchedule(), nil
	}
	if err != nil {
		return EmailSchedule{}, fmt.Errorf("read email schedule %s: %w", path, err)
	}

	sched := DefaultEmailSchedule()
	if err := json.Unmarshal(data, &sched); err != nil {
		return EmailSchedule{}, fmt.Errorf("parse email schedule %s: %w", path, err)
	}
	if sched.PendingOlderThanHours <= 0 {
		sched.PendingOlderThanHours = 24
	}
	return sched, nil
}

// Location resolves the configured timezone, defaulting to UTC on error.
func (s EmailSchedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
