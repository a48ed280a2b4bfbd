package domain

import "strings"

type PhotoStatus string

const (
	StatusUploaded   PhotoStatus = "UPLOADED"
	StatusQueued     PhotoStatus = "QUEUED"
	StatusProcessing PhotoStatus = "PROCESSING"
	StatusCompleted  PhotoStatus = "COMPLETED"
	StatusFailed     PhotoStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s PhotoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParsePhotoStatus maps a raw string to a known status, case-insensitively.
func ParsePhotoStatus(raw string) (PhotoStatus, bool) {
	switch PhotoStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusUploaded:
		return StatusUploaded, true
	case StatusQueued:
		return StatusQueued, true
	case StatusProcessing:
		return StatusProcessing, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Decision is the outcome of consulting the status transition table.
type Decision int

const (
	// DecisionApply writes the new status, appends its event, and notifies.
	DecisionApply Decision = iota
	// DecisionNoop leaves a terminal photo untouched: no write, no event,
	// no notification, nil error. Re-delivered work acks harmlessly.
	DecisionNoop
	// DecisionInvalid marks a transition no correct caller performs.
	DecisionInvalid
)

var allowedTransitions = map[PhotoStatus]map[PhotoStatus]bool{
	StatusUploaded:   {StatusQueued: true, StatusFailed: true},
	StatusQueued:     {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// Decide consults the transition table for a photo currently in from being
// asked to move to target. Repeating a non-terminal status applies again
// with a fresh event, so an at-least-once redelivery that restarts
// processing is recorded as a second start rather than rejected.
func Decide(from, target PhotoStatus) Decision {
	if from.Terminal() {
		return DecisionNoop
	}
	if allowedTransitions[from] == nil {
		return DecisionInvalid
	}
	if from == target {
		return DecisionApply
	}
	if allowedTransitions[from][target] {
		return DecisionApply
	}
	return DecisionInvalid
}
