package model

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScheduleType determines whether a schedule fires once or every day.
type ScheduleType string

const (
	ScheduleOneTime ScheduleType = "one_time"
	ScheduleDaily   ScheduleType = "daily"
)

// Day is the recurrence step for daily schedules.
const Day = 24 * time.Hour

// Schedule represents a start/stop schedule bound to exactly one session.
// StartDatetime, EndDatetime, LastRun and NextRun are stored normalized to UTC;
// Timezone is only used to derive the wall-clock fields of the calendar triggers.
type Schedule struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID     primitive.ObjectID `json:"session_id" bson:"session_id"`
	ScheduleType  ScheduleType       `json:"schedule_type" bson:"schedule_type"`
	StartDatetime time.Time          `json:"start_datetime" bson:"start_datetime"`
	EndDatetime   time.Time          `json:"end_datetime" bson:"end_datetime"`
	Timezone      string             `json:"timezone" bson:"timezone"`
	IsActive      bool               `json:"is_active" bson:"is_active"`
	LastRun       time.Time          `json:"last_run,omitempty" bson:"last_run,omitempty"`
	NextRun       time.Time          `json:"next_run,omitempty" bson:"next_run,omitempty"`
	Metadata      Metadata           `json:"metadata" bson:"metadata"`
}

// Validate validates the schedule and derives the initial NextRun when unset.
func (s *Schedule) Validate() error {
	if s.SessionID.IsZero() {
		return errors.New("session id is required")
	}

	switch s.ScheduleType {
	case ScheduleOneTime, ScheduleDaily:
	default:
		return fmt.Errorf("invalid schedule type: %s (must be 'one_time' or 'daily')", s.ScheduleType)
	}

	if s.StartDatetime.IsZero() || s.EndDatetime.IsZero() {
		return errors.New("start and end datetime are required")
	}
	if !s.EndDatetime.After(s.StartDatetime) {
		return errors.New("end datetime must be after start datetime")
	}

	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	if s.NextRun.IsZero() {
		s.NextRun = s.InitialNextRun(time.Now().UTC())
	}

	now := time.Now().UTC()
	if s.Metadata.CreatedAt.IsZero() {
		s.Metadata.CreatedAt = now
	}
	s.Metadata.UpdatedAt = now

	return nil
}

// Location resolves the schedule's IANA timezone.
func (s *Schedule) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// InitialNextRun computes the first start fire time. One-time schedules fire at
// their start instant; daily schedules whose start has already passed roll
// forward in whole days until the instant is in the future.
func (s *Schedule) InitialNextRun(now time.Time) time.Time {
	if s.ScheduleType == ScheduleDaily {
		return NextOccurrence(s.StartDatetime, now)
	}
	return s.StartDatetime
}

// NextStopRun computes the fire time of the stop trigger: the end instant itself
// for one-time schedules, or its next daily occurrence after now.
func (s *Schedule) NextStopRun(now time.Time) time.Time {
	if s.ScheduleType == ScheduleDaily {
		return NextOccurrence(s.EndDatetime, now)
	}
	return s.EndDatetime
}

// NextOccurrence advances t by whole days until it is strictly after now.
// The step is a fixed 24h in UTC, matching how daily recurrence is persisted.
func NextOccurrence(t, now time.Time) time.Time {
	if t.After(now) {
		return t
	}
	days := now.Sub(t)/Day + 1
	return t.Add(days * Day)
}

// localDatetimeLayouts are the accepted wall-clock formats for schedule input
// that does not carry an explicit offset.
var localDatetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseLocalDatetime parses a datetime string in the given IANA timezone and
// returns the equivalent UTC instant. Values carrying an explicit offset
// (RFC 3339) are honored as-is.
func ParseLocalDatetime(value, timezone string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
	}

	for _, layout := range localDatetimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable datetime: %q", value)
}
