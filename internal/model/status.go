package model

import "strings"

// Status is the lookup outcome recorded for one input record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusActive          Status = "ACTIVE"
	StatusInactive        Status = "INACTIVE"
	StatusSuspended       Status = "SUSPENDED"
	StatusUnknown         Status = "UNKNOWN"
	StatusNotFound        Status = "NOT_FOUND"
	StatusError           Status = "ERROR"
	StatusConnectionError Status = "CONNECTION_ERROR"
)

// AllStatuses lists every status in report order.
var AllStatuses = []Status{
	StatusActive,
	StatusInactive,
	StatusSuspended,
	StatusUnknown,
	StatusNotFound,
	StatusError,
	StatusConnectionError,
	StatusPending,
}

// IsFinding reports whether the status carries an identifier.
func (s Status) IsFinding() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusUnknown:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the lookup failed rather than completed.
func (s Status) IsFailure() bool {
	return s == StatusError || s == StatusConnectionError
}

// ParseStatus maps a stored status value back to a Status. Unrecognized
// values map to StatusUnknown so rows written by older runs still load.
func ParseStatus(v string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllStatuses {
		if s == known {
			return s
		}
	}
	if s == "" {
		return StatusPending
	}
	return StatusUnknown
}
