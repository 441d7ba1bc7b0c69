package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/dom/code-arena/internal/arena"
)

// WSClient is a test WebSocket client.
type WSClient struct {
	t        *testing.T
	conn     *gorillaWS.Conn
	messages chan *arena.Message
	errors   chan error
	done     chan struct{}
	mu       sync.Mutex
}

// NewWSClient connects a new test client to the given websocket URL.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:        t,
		conn:     conn,
		messages: make(chan *arena.Message, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func (c *WSClient) readPump() {
	defer close(c.messages)
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				select {
				case <-c.done:
					return
				case c.errors <- err:
				}
				return
			}

			var msg arena.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.errors <- err
				continue
			}

			select {
			case c.messages <- &msg:
			case <-c.done:
				return
			}
		}
	}
}

// Close closes the WebSocket connection gracefully.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}

func (c *WSClient) sendMessage(msgType arena.MessageType, payload interface{}) {
	c.t.Helper()

	msg, err := arena.NewMessage(msgType, payload)
	if err != nil {
		c.t.Fatalf("failed to build %s message: %v", msgType, err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("failed to marshal message: %v", err)
	}

	c.mu.Lock()
	err = c.conn.WriteMessage(gorillaWS.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		c.t.Fatalf("failed to send %s: %v", msgType, err)
	}
}

// JoinRoom sends a join_room intent.
func (c *WSClient) JoinRoom(roomID, username, userID string) {
	c.sendMessage(arena.MessageTypeJoinRoom, arena.JoinRoomPayload{
		RoomID:   roomID,
		Username: username,
		UserID:   userID,
	})
}

// UpdateProgress sends an update_progress intent.
func (c *WSClient) UpdateProgress(roomID string, progress int) {
	c.sendMessage(arena.MessageTypeUpdateProgress, arena.UpdateProgressPayload{
		RoomID:   roomID,
		Progress: progress,
	})
}

// ReportDisqualified sends a player_disqualified intent.
func (c *WSClient) ReportDisqualified(roomID string) {
	c.sendMessage(arena.MessageTypeDisqualified, arena.RoomActionPayload{RoomID: roomID})
}

// ClaimSubmissionSuccess sends a submission_success intent.
func (c *WSClient) ClaimSubmissionSuccess(roomID string) {
	c.sendMessage(arena.MessageTypeSubmissionSuccess, arena.RoomActionPayload{RoomID: roomID})
}

// RequestSync sends a sync_state request.
func (c *WSClient) RequestSync(roomID string) {
	c.sendMessage(arena.MessageTypeSyncState, arena.RoomActionPayload{RoomID: roomID})
}

// NextMessage waits for the next message of any type.
func (c *WSClient) NextMessage(timeout time.Duration) *arena.Message {
	c.t.Helper()

	select {
	case msg := <-c.messages:
		if msg == nil {
			c.t.Fatalf("connection closed while waiting for a message")
		}
		return msg
	case err := <-c.errors:
		c.t.Fatalf("error while waiting for a message: %v", err)
	case <-time.After(timeout):
		c.t.Fatalf("timeout waiting for a message")
	}
	return nil
}

// ExpectMessage waits for a message of the specified type, skipping
// messages of other types.
func (c *WSClient) ExpectMessage(msgType arena.MessageType, timeout time.Duration) *arena.Message {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg == nil {
				c.t.Fatalf("connection closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
		case err := <-c.errors:
			c.t.Fatalf("error while waiting for %s: %v", msgType, err)
		case <-deadline:
			c.t.Fatalf("timeout waiting for message type %s", msgType)
		}
	}
}

// ExpectMatchFound waits for and decodes a match_found message.
func (c *WSClient) ExpectMatchFound(timeout time.Duration) *arena.MatchFoundPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeMatchFound, timeout)

	var payload arena.MatchFoundPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode match found payload: %v", err)
	}

	return &payload
}

// ExpectGameStart waits for and decodes a game_start message.
func (c *WSClient) ExpectGameStart(timeout time.Duration) *arena.GameStartPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeGameStart, timeout)

	var payload arena.GameStartPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode game start payload: %v", err)
	}

	return &payload
}

// ExpectOpponentProgress waits for and decodes an opponent_progress
// message.
func (c *WSClient) ExpectOpponentProgress(timeout time.Duration) *arena.OpponentProgressPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeOpponentProgress, timeout)

	var payload arena.OpponentProgressPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode opponent progress payload: %v", err)
	}

	return &payload
}

// ExpectGameOver waits for and decodes a game_over message.
func (c *WSClient) ExpectGameOver(timeout time.Duration) *arena.GameOverPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeGameOver, timeout)

	var payload arena.GameOverPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode game over payload: %v", err)
	}

	return &payload
}

// ExpectStateSync waits for and decodes a state_sync message.
func (c *WSClient) ExpectStateSync(timeout time.Duration) *arena.StateSyncPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeStateSync, timeout)

	var payload arena.StateSyncPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode state sync payload: %v", err)
	}

	return &payload
}

// ExpectError waits for and decodes an error message.
func (c *WSClient) ExpectError(timeout time.Duration) *arena.ErrorPayload {
	c.t.Helper()

	msg := c.ExpectMessage(arena.MessageTypeError, timeout)

	var payload arena.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode error payload: %v", err)
	}

	return &payload
}

// ExpectErrorWithCode waits for an error with a specific code.
func (c *WSClient) ExpectErrorWithCode(code string, timeout time.Duration) *arena.ErrorPayload {
	c.t.Helper()

	payload := c.ExpectError(timeout)
	if payload.Code != code {
		c.t.Fatalf("expected error code %s, got %s: %s", code, payload.Code, payload.Message)
	}

	return payload
}

// ExpectNoMessage verifies no messages are received within timeout.
func (c *WSClient) ExpectNoMessage(timeout time.Duration) {
	c.t.Helper()

	select {
	case msg := <-c.messages:
		if msg != nil {
			c.t.Fatalf("unexpected message received: %s", msg.Type)
		}
	case <-time.After(timeout):
	}
}

// DrainMessages drains messages, waiting for the channel to settle.
func (c *WSClient) DrainMessages() {
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-c.messages:
			if msg == nil {
				return
			}
			deadline = time.After(50 * time.Millisecond)
		case <-deadline:
			return
		case <-c.done:
			return
		}
	}
}
