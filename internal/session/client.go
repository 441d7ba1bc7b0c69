package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/domain"
)

// RunOutcome is what a sample run resolves to.
type RunOutcome struct {
	Success  bool
	Input    string
	Expected string
	Actual   string
}

// SubmitOutcome is what a full submission resolves to. IsWin echoes the
// coordinator's decision; the client never declares a win on its own.
type SubmitOutcome struct {
	Passed   int
	Total    int
	Progress int
	IsWin    bool
}

// Client connects one participant to the arena: a websocket for room
// events and intents, REST for code execution. All server events and
// local actions funnel through the embedded machine under one lock, so
// the view a caller reads is always internally consistent.
type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
	log     zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	machine *Machine
	monitor *Monitor
	roomID  string
	userID  string
	name    string

	done     chan struct{}
	closeErr error
	once     sync.Once
}

// Config wires a Client. Token is optional: without one the server
// assigns a guest identity.
type Config struct {
	BaseURL    string // e.g. http://localhost:8080
	WSURL      string // e.g. ws://localhost:8080/api/v1/ws
	Token      string
	UserID     string
	Username   string
	MaxStrikes int
	Monitor    MonitorOptions
	Logger     zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.MaxStrikes == 0 {
		cfg.MaxStrikes = domain.MaxStrikes
	}
	return &Client{
		baseURL: cfg.BaseURL,
		wsURL:   cfg.WSURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     cfg.Logger,
		machine: NewMachine(cfg.UserID),
		monitor: NewMonitor(cfg.MaxStrikes, cfg.Monitor),
		userID:  cfg.UserID,
		name:    cfg.Username,
		done:    make(chan struct{}),
	}
}

// Connect dials the websocket and starts the event pump. It does not
// join a room; call Join next.
func (c *Client) Connect(ctx context.Context) error {
	url := c.wsURL
	if c.token != "" {
		url += "?token=" + c.token
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing arena: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Join requests a seat in the given room.
func (c *Client) Join(roomID string) error {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
	return c.send(arena.MessageTypeJoinRoom, arena.JoinRoomPayload{
		RoomID:   roomID,
		Username: c.name,
		UserID:   c.userID,
	})
}

// Run executes the current buffer against the visible samples. Diagnostic
// only: progress and room state are untouched regardless of outcome.
func (c *Client) Run(ctx context.Context) (*RunOutcome, error) {
	c.mu.Lock()
	if err := c.machine.BeginAction(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	req := handlerRunRequest{
		RoomID:     c.roomID,
		UserID:     c.userID,
		SourceCode: c.machine.Buffer(),
		Language:   c.machine.Language(),
	}
	c.mu.Unlock()

	var resp handlerRunResponse
	err := c.post(ctx, "/api/v1/game/run", req, &resp)

	c.mu.Lock()
	c.machine.EndAction()
	if err == nil {
		c.monitor.NoteRun()
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &RunOutcome{
		Success:  resp.Success,
		Input:    resp.Result.Input,
		Expected: resp.Result.Expected,
		Actual:   resp.Result.Actual,
	}, nil
}

// Submit sends the current buffer for full judging. On a win the
// coordinator has already recorded the verdict by the time the response
// arrives; the follow-up intent messages only update the displayed
// progress and confirm the finish.
func (c *Client) Submit(ctx context.Context) (*SubmitOutcome, error) {
	c.mu.Lock()
	if err := c.machine.BeginAction(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	var problemID string
	if p := c.machine.Problem(); p != nil {
		problemID = p.ID
	}
	req := handlerSubmitRequest{
		RoomID:     c.roomID,
		UserID:     c.userID,
		SourceCode: c.machine.Buffer(),
		Language:   c.machine.Language(),
		ProblemID:  problemID,
	}
	roomID := c.roomID
	c.mu.Unlock()

	var resp handlerSubmitResponse
	if err := c.post(ctx, "/api/v1/game/submit", req, &resp); err != nil {
		c.mu.Lock()
		c.machine.EndAction()
		c.mu.Unlock()
		return nil, err
	}

	passed := 0
	for _, r := range resp.Results {
		if r.Passed {
			passed++
		}
	}
	progress := 0
	if len(resp.Results) > 0 {
		progress = passed * 100 / len(resp.Results)
	}

	c.mu.Lock()
	c.machine.Apply(Event{Type: EventSubmitResolved, Progress: progress, IsWin: resp.IsWin})
	c.mu.Unlock()

	if err := c.send(arena.MessageTypeUpdateProgress, arena.UpdateProgressPayload{
		RoomID:   roomID,
		Progress: progress,
	}); err != nil {
		c.log.Warn().Err(err).Msg("failed to publish progress")
	}
	if resp.IsWin {
		if err := c.send(arena.MessageTypeSubmissionSuccess, arena.RoomActionPayload{RoomID: roomID}); err != nil {
			c.log.Warn().Err(err).Msg("failed to confirm winning submission")
		}
	}

	return &SubmitOutcome{
		Passed:   passed,
		Total:    len(resp.Results),
		Progress: progress,
		IsWin:    resp.IsWin,
	}, nil
}

// FocusLost records an anti-cheat strike. On the third strike the local
// match ends immediately and the coordinator is told.
func (c *Client) FocusLost() (strikes int, disqualified bool) {
	c.mu.Lock()
	if c.machine.State() != StatePlaying {
		s := c.monitor.Strikes()
		c.mu.Unlock()
		return s, false
	}
	strikes, verdict := c.monitor.FocusLost()
	if verdict != VerdictDisqualify {
		c.mu.Unlock()
		return strikes, false
	}
	c.machine.Apply(Event{Type: EventDisqualified})
	roomID := c.roomID
	c.mu.Unlock()

	if err := c.send(arena.MessageTypeDisqualified, arena.RoomActionPayload{RoomID: roomID}); err != nil {
		c.log.Warn().Err(err).Msg("failed to report disqualification")
	}
	return strikes, true
}

// Paste is called when the participant attempts a paste. The paste never
// reaches the buffer and never costs a strike.
func (c *Client) Paste() (blockedMessage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor.PasteBlocked()
}

// RequestSync asks the coordinator for a fresh authoritative snapshot.
func (c *Client) RequestSync() error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	return c.send(arena.MessageTypeSyncState, arena.RoomActionPayload{RoomID: roomID})
}

// View returns a consistent snapshot of the local match state.
func (c *Client) View(fn func(m *Machine, strikes int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.machine, c.monitor.Strikes())
}

// SelectLanguage switches language and replaces the buffer with starter
// code.
func (c *Client) SelectLanguage(lang domain.Language) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.SelectLanguage(lang)
}

func (c *Client) SetBuffer(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.SetBuffer(source)
}

// Leave closes the connection. Room state on the server is untouched
// beyond the disconnect itself; within the grace window a new Client with
// the same identity resumes the match.
func (c *Client) Leave() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			err = conn.Close()
		}
	})
	return err
}

// Done closes when the connection is gone, either by Leave or a server
// side close.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports the read error that ended the connection, if any. It is
// only meaningful after Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.Leave()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}
		var msg arena.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed message")
			continue
		}
		c.dispatch(&msg)
	}
}

// dispatch translates one server message into a machine event. Unknown
// types are logged and dropped, keeping old clients compatible with new
// servers.
func (c *Client) dispatch(msg *arena.Message) {
	var ev Event
	switch msg.Type {
	case arena.MessageTypeMatchFound:
		var p arena.MatchFoundPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		ev = Event{Type: EventMatchFound, CountdownMs: p.Duration}

	case arena.MessageTypeGameStart:
		var p arena.GameStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		ev = Event{Type: EventGameStart, Problem: p.Problem, DurationMs: p.GameDuration}

	case arena.MessageTypeOpponentProgress:
		var p arena.OpponentProgressPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		ev = Event{Type: EventOpponentProgress, Progress: p.Progress}

	case arena.MessageTypeGameOver:
		var p arena.GameOverPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		ev = Event{Type: EventGameOver, WinnerID: p.WinnerID, Reason: p.Reason}

	case arena.MessageTypeStateSync:
		var p arena.StateSyncPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		ev = Event{
			Type:        EventStateSync,
			State:       State(p.State),
			CountdownMs: p.CountdownRemaining,
			DurationMs:  p.MatchRemaining,
			Problem:     p.Problem,
			Progress:    p.YourProgress,
			Strikes:     p.YourStrikes,
		}
		if p.Result != nil {
			ev.WinnerID = p.Result.WinnerUserID
			ev.Reason = p.Result.Reason
		}

	case arena.MessageTypeError:
		var p arena.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		c.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("server rejected request")
		return

	default:
		c.log.Debug().Str("type", string(msg.Type)).Msg("ignoring unknown message type")
		return
	}

	c.mu.Lock()
	if c.machine.State() == StateConnecting && msg.Type == arena.MessageTypeStateSync {
		c.machine.Apply(Event{Type: EventJoined})
	}
	c.machine.Apply(ev)
	c.mu.Unlock()
}

func (c *Client) send(msgType arena.MessageType, payload interface{}) error {
	msg, err := arena.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// Held across the write: the connection allows one concurrent writer.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, errResp.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Local mirrors of the REST shapes. Kept private so the session package
// does not import the handlers package.

type handlerRunRequest struct {
	RoomID     string          `json:"roomId"`
	UserID     string          `json:"userId"`
	SourceCode string          `json:"sourceCode"`
	Language   domain.Language `json:"language"`
}

type handlerRunResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Input    string `json:"input"`
		Expected string `json:"expected"`
		Actual   string `json:"actual"`
		Passed   bool   `json:"passed"`
	} `json:"result"`
}

type handlerSubmitRequest struct {
	RoomID     string          `json:"roomId"`
	UserID     string          `json:"userId"`
	SourceCode string          `json:"sourceCode"`
	Language   domain.Language `json:"language"`
	ProblemID  string          `json:"problemId"`
}

type handlerSubmitResponse struct {
	Results []struct {
		Passed bool `json:"passed"`
	} `json:"results"`
	IsWin bool `json:"isWin"`
}
