package arena

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/judge"
	"github.com/dom/code-arena/internal/problems"
	"github.com/dom/code-arena/internal/repository"
)

// Hub is the room registry. Its mutex only guards the maps: every
// room-level decision (capacity, rebind, arbitration) is serialized inside
// that room's own goroutine, so rooms stay fully independent of each other.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*Match
	clients map[*Client]bool
	stopped bool

	clock    clockwork.Clock
	provider problems.Provider
	records  repository.MatchRecordRepository
	settings Settings
	log      zerolog.Logger
}

func NewHub(clock clockwork.Clock, provider problems.Provider, records repository.MatchRecordRepository, settings Settings, log zerolog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]*Match),
		clients:  make(map[*Client]bool),
		clock:    clock,
		provider: provider,
		records:  records,
		settings: settings,
		log:      log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.clients[client] = true
	}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !ok {
		return
	}
	if client.match != nil {
		client.match.Leave(client)
	}
	client.Close()
}

// Join resolves identity, creates the room on first use and hands the
// client to the room goroutine. The room itself decides admit/reject/rebind.
func (h *Hub) Join(client *Client, payload *JoinRoomPayload) {
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		client.sendError("INVALID_ROOM", "Room id is required")
		return
	}

	// A verified token identity wins over whatever the payload claims.
	userID := client.userID
	displayName := client.displayName
	if userID == "" {
		userID = strings.TrimSpace(payload.UserID)
	}
	if displayName == "" {
		displayName = strings.TrimSpace(payload.Username)
	}
	if userID == "" || userID == "guest" {
		userID = "guest_" + uuid.NewString()
	}
	if displayName == "" {
		displayName = "Guest"
	}
	client.userID = userID
	client.displayName = displayName

	match := h.getOrCreateRoom(roomID)
	if match == nil {
		client.sendError("SERVER_STOPPING", "Server is shutting down")
		return
	}
	client.match = match
	match.Join(client, userID, displayName)
}

func (h *Hub) getOrCreateRoom(roomID string) *Match {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	if match, ok := h.rooms[roomID]; ok {
		return match
	}

	match := newMatch(roomID, h, h.settings, h.provider)
	h.rooms[roomID] = match
	go match.run()

	h.log.Info().Str("room", roomID).Msg("room created")
	return match
}

// Room returns the live room, or nil once it has been disposed.
func (h *Hub) Room(roomID string) *Match {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

func (h *Hub) removeRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, roomID)
}

// ProblemFor looks up the room's problem snapshot on behalf of the
// run/submit handlers.
func (h *Hub) ProblemFor(roomID, userID string) (*domain.Problem, error) {
	match := h.Room(roomID)
	if match == nil {
		return nil, domain.ErrRoomNotFound
	}
	return match.ProblemFor(userID)
}

// ReportSubmission feeds an authoritative judge outcome into the room.
// This is the trusted verdict path: the submit handler has already run the
// hidden suite through the judge before calling it.
func (h *Hub) ReportSubmission(roomID, userID string, results []judge.CaseResult) {
	if match := h.Room(roomID); match != nil {
		match.ReportVerdict(userID, results)
	}
}

// Result returns the outcome of a finished match: from the live room while
// it is retained, then from the persisted record.
func (h *Hub) Result(ctx context.Context, roomID string) (*domain.MatchResult, error) {
	if match := h.Room(roomID); match != nil {
		if result := match.Result(); result != nil {
			return result, nil
		}
		return nil, domain.ErrNoResult
	}

	if h.records == nil {
		return nil, domain.ErrRoomNotFound
	}
	record, err := h.records.GetByRoomID(ctx, roomID)
	if err != nil || record == nil {
		return nil, domain.ErrRoomNotFound
	}
	return &domain.MatchResult{
		WinnerUserID: record.WinnerUserID,
		Reason:       record.Reason,
	}, nil
}

// Stop shuts down every room and connection. Used on server shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	rooms := make([]*Match, 0, len(h.rooms))
	for _, m := range h.rooms {
		rooms = append(rooms, m)
	}
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.rooms = make(map[string]*Match)
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, m := range rooms {
		m.Shutdown()
	}
	for _, c := range clients {
		c.Close()
	}
}
