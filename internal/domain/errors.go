package domain

import "errors"

// Room errors
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrMatchFinished = errors.New("match is already finished")
	ErrNotInRoom     = errors.New("user is not a participant of this room")
	ErrNotPlaying    = errors.New("match is not in progress")
	ErrNoResult      = errors.New("match has no result yet")
)

// Request validation errors
var (
	ErrInvalidLanguage = errors.New("unsupported language")
	ErrEmptySource     = errors.New("source code is empty")
)

// Upstream errors
var (
	ErrProblemUnavailable = errors.New("problem provider unavailable")
	ErrJudgeUnavailable   = errors.New("judge unavailable")
)
