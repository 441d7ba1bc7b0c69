package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Reason explains how a match reached Finished.
type Reason string

const (
	ReasonSubmission         Reason = "submission"
	ReasonTimeout            Reason = "timeout"
	ReasonDisqualification   Reason = "disqualification"
	ReasonOpponentDisconnect Reason = "opponent_disconnect"
)

// MatchResult is the single authoritative outcome of a match. WinnerUserID
// is empty only when a match is voided with no winner.
type MatchResult struct {
	WinnerUserID string `json:"winnerId"`
	Reason       Reason `json:"reason"`
}

// MatchRecord is the persisted row for a finished match, kept for result
// queries after the in-memory room has been disposed.
type MatchRecord struct {
	ID           uint           `json:"-" gorm:"primaryKey"`
	RoomID       string         `json:"roomId" gorm:"uniqueIndex;not null"`
	ProblemID    string         `json:"problemId"`
	WinnerUserID string         `json:"winnerId"`
	Reason       Reason         `json:"reason" gorm:"not null"`
	Progress     datatypes.JSON `json:"progress"` // userId -> final progress
	FinishedAt   time.Time      `json:"finishedAt"`
}
