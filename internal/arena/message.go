package arena

import (
	"encoding/json"
	"time"

	"github.com/dom/code-arena/internal/domain"
)

type MessageType string

const (
	// Client to Server
	MessageTypeJoinRoom          MessageType = "join_room"
	MessageTypeUpdateProgress    MessageType = "update_progress"
	MessageTypeDisqualified      MessageType = "player_disqualified"
	MessageTypeSubmissionSuccess MessageType = "submission_success"
	MessageTypeSyncState         MessageType = "sync_state"

	// Server to Client
	MessageTypeMatchFound       MessageType = "match_found"
	MessageTypeGameStart        MessageType = "game_start"
	MessageTypeOpponentProgress MessageType = "opponent_progress"
	MessageTypeGameOver         MessageType = "game_over"
	MessageTypeStateSync        MessageType = "state_sync"
	MessageTypeError            MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Client to Server payloads

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type UpdateProgressPayload struct {
	RoomID   string `json:"roomId"`
	Progress int    `json:"progress"`
}

// RoomActionPayload carries intents that only name the room:
// player_disqualified and submission_success.
type RoomActionPayload struct {
	RoomID string `json:"roomId"`
}

// Server to Client payloads

type MatchFoundPayload struct {
	// Duration of the pre-game countdown in milliseconds.
	Duration int64 `json:"duration"`
}

type GameStartPayload struct {
	Problem *domain.Problem `json:"problem"`
	// GameDuration is the full match duration in milliseconds.
	GameDuration int64 `json:"gameDuration"`
}

type OpponentProgressPayload struct {
	Progress int `json:"progress"`
}

type GameOverPayload struct {
	WinnerID string        `json:"winnerId"`
	Reason   domain.Reason `json:"reason"`
}

// StateSyncPayload carries the full authoritative view of a room. It is
// sent on every (re)join so a client can silently correct local drift.
type StateSyncPayload struct {
	RoomID             string              `json:"roomId"`
	State              domain.RoomState    `json:"state"`
	CountdownRemaining int64               `json:"countdownRemainingMs"`
	MatchRemaining     int64               `json:"matchRemainingMs"`
	Problem            *domain.Problem     `json:"problem,omitempty"`
	YourProgress       int                 `json:"yourProgress"`
	YourStrikes        int                 `json:"yourStrikes"`
	OpponentName       string              `json:"opponentName,omitempty"`
	OpponentProgress   int                 `json:"opponentProgress"`
	OpponentConnected  bool                `json:"opponentConnected"`
	Result             *domain.MatchResult `json:"result,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
