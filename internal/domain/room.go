package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomCapacity is the fixed number of contestants per match.
const RoomCapacity = 2

// MaxStrikes is the anti-cheat strike count that forces disqualification.
const MaxStrikes = 3

type RoomState string

const (
	RoomStateWaiting  RoomState = "waiting"
	RoomStateStarting RoomState = "starting"
	RoomStatePlaying  RoomState = "playing"
	RoomStateFinished RoomState = "finished"
)

// Participant is one contestant bound to a room. ConnectionID changes on
// every reconnect; UserID is the stable identity a rebind is matched on.
type Participant struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	Progress     int       `json:"progress"`
	Strikes      int       `json:"strikes"`
	Connected    bool      `json:"connected"`
	JoinedAt     time.Time `json:"joinedAt"`
}
