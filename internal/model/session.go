package model

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus represents the lifecycle state of a broadcast session.
type SessionStatus string

const (
	StatusInactive SessionStatus = "inactive"
	StatusActive   SessionStatus = "active"
)

// Session represents a broadcast session document. A session is inactive until a
// push process is running for it; while active it carries the process handle
// (service_name + pid) returned by the lifecycle adapter.
type Session struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SourcePath  string             `json:"source_path" bson:"source_path"`
	SourceName  string             `json:"source_name,omitempty" bson:"source_name,omitempty"`
	Platform    string             `json:"platform" bson:"platform"`
	StreamKey   string             `json:"stream_key" bson:"stream_key"`
	Status      SessionStatus      `json:"status" bson:"status"`
	ServiceName string             `json:"service_name,omitempty" bson:"service_name,omitempty"`
	PID         int                `json:"pid,omitempty" bson:"pid,omitempty"`
	StartTime   time.Time          `json:"start_time,omitempty" bson:"start_time,omitempty"`
	EndTime     time.Time          `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Metadata    Metadata           `json:"metadata" bson:"metadata"`
}

// HasHandle reports whether the session carries a process handle.
func (s *Session) HasHandle() bool {
	return s.ServiceName != ""
}

// Validate validates a session document before persistence.
func (s *Session) Validate() error {
	if s.SourcePath == "" {
		return errors.New("source path is required")
	}
	if s.Platform == "" {
		return errors.New("platform is required")
	}
	if s.StreamKey == "" {
		return errors.New("stream key is required")
	}

	if s.Status == "" {
		s.Status = StatusInactive
	}
	if s.Status != StatusInactive && s.Status != StatusActive {
		return errors.New("status must be 'inactive' or 'active'")
	}

	now := time.Now().UTC()
	if s.Metadata.CreatedAt.IsZero() {
		s.Metadata.CreatedAt = now
	}
	s.Metadata.UpdatedAt = now

	return nil
}
