package arena

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/judge"
	"github.com/dom/code-arena/internal/problems"
)

// Settings are the per-room timing knobs, fixed at room creation.
type Settings struct {
	Countdown      time.Duration
	MatchDuration  time.Duration
	ReconnectGrace time.Duration
	Retention      time.Duration
	FetchAttempts  int
}

// participant couples the room-visible participant state with the live
// connection. winVerified is set only on the judge-backed verdict path and
// is the sole thing that lets a submission end the match.
type participant struct {
	domain.Participant
	client      *Client
	winVerified bool
	graceSeq    int
}

type timerKind int

const (
	timerCountdown timerKind = iota
	timerMatchExpiry
	timerGrace
	timerRetention
)

type timerEvent struct {
	kind     timerKind
	userID   string
	graceSeq int
}

type joinRequest struct {
	client      *Client
	userID      string
	displayName string
}

type progressRequest struct {
	userID   string
	progress int
}

type verdictRequest struct {
	userID  string
	results []judge.CaseResult
}

type userRequest struct {
	userID string
	reply  chan userView
}

type userView struct {
	problem *domain.Problem
	state   domain.RoomState
	err     error
}

type resultRequest struct {
	reply chan *domain.MatchResult
}

// Match is the server-side coordinator for one room. A single goroutine
// owns all state; every mutation flows through its channels, so two
// near-simultaneous terminal triggers can never race: the first one wins
// and later ones hit the absorbing Finished state.
type Match struct {
	id       string
	hub      *Hub
	clock    clockwork.Clock
	settings Settings
	provider problems.Provider
	log      zerolog.Logger

	state        domain.RoomState
	participants []*participant
	problem      *domain.Problem
	result       *domain.MatchResult
	createdAt    time.Time

	countdownDone    bool
	countdownStarted time.Time
	playingStarted   time.Time

	join          chan *joinRequest
	leave         chan *Client
	progress      chan *progressRequest
	verdict       chan *verdictRequest
	disqualify    chan string
	submitSuccess chan string
	syncState     chan *Client
	problemReady  chan *domain.Problem
	timers        chan timerEvent
	userQuery     chan *userRequest
	resultQuery   chan *resultRequest
	stop          chan struct{}
	done          chan struct{}
}

func newMatch(id string, hub *Hub, settings Settings, provider problems.Provider) *Match {
	return &Match{
		id:            id,
		hub:           hub,
		clock:         hub.clock,
		settings:      settings,
		provider:      provider,
		log:           hub.log.With().Str("room", id).Logger(),
		state:         domain.RoomStateWaiting,
		createdAt:     hub.clock.Now(),
		join:          make(chan *joinRequest),
		leave:         make(chan *Client),
		progress:      make(chan *progressRequest),
		verdict:       make(chan *verdictRequest),
		disqualify:    make(chan string),
		submitSuccess: make(chan string),
		syncState:     make(chan *Client),
		problemReady:  make(chan *domain.Problem, 1),
		timers:        make(chan timerEvent, 8),
		userQuery:     make(chan *userRequest),
		resultQuery:   make(chan *resultRequest),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (m *Match) run() {
	defer close(m.done)

	for {
		select {
		case req := <-m.join:
			m.handleJoin(req)
		case client := <-m.leave:
			if m.handleLeave(client) {
				return
			}
		case req := <-m.progress:
			m.handleProgress(req)
		case req := <-m.verdict:
			m.handleVerdict(req)
		case userID := <-m.disqualify:
			m.handleDisqualify(userID)
		case userID := <-m.submitSuccess:
			m.handleSubmissionSuccess(userID)
		case client := <-m.syncState:
			m.sendStateSync(client)
		case problem := <-m.problemReady:
			m.handleProblemReady(problem)
		case ev := <-m.timers:
			if m.handleTimer(ev) {
				return
			}
		case req := <-m.userQuery:
			req.reply <- m.handleUserQuery(req.userID)
		case req := <-m.resultQuery:
			req.reply <- m.result
		case <-m.stop:
			return
		}
	}
}

// Public intents. Every method is safe to call after the room goroutine
// has exited: sends are guarded by done.

func (m *Match) Join(client *Client, userID, displayName string) {
	select {
	case m.join <- &joinRequest{client: client, userID: userID, displayName: displayName}:
	case <-m.done:
		client.sendError("ROOM_CLOSED", "Room no longer exists")
	}
}

func (m *Match) Leave(client *Client) {
	select {
	case m.leave <- client:
	case <-m.done:
	}
}

func (m *Match) UpdateProgress(userID string, progress int) {
	select {
	case m.progress <- &progressRequest{userID: userID, progress: progress}:
	case <-m.done:
	}
}

// ReportVerdict delivers an authoritative judge outcome for userID's
// submission. This is the only path that can finish a match with
// reason=submission.
func (m *Match) ReportVerdict(userID string, results []judge.CaseResult) {
	select {
	case m.verdict <- &verdictRequest{userID: userID, results: results}:
	case <-m.done:
	}
}

func (m *Match) Disqualify(userID string) {
	select {
	case m.disqualify <- userID:
	case <-m.done:
	}
}

// SubmissionSuccess is the untrusted client-side win assertion. It only
// prompts a re-check of the recorded verdict; see handleSubmissionSuccess.
func (m *Match) SubmissionSuccess(userID string) {
	select {
	case m.submitSuccess <- userID:
	case <-m.done:
	}
}

func (m *Match) SyncState(client *Client) {
	select {
	case m.syncState <- client:
	case <-m.done:
	}
}

// ProblemFor returns the room's problem snapshot if userID participates
// and the match is in progress. Used by the run/submit handlers.
func (m *Match) ProblemFor(userID string) (*domain.Problem, error) {
	req := &userRequest{userID: userID, reply: make(chan userView, 1)}
	select {
	case m.userQuery <- req:
		view := <-req.reply
		return view.problem, view.err
	case <-m.done:
		return nil, domain.ErrRoomNotFound
	}
}

// Result returns the final result, or nil while the match is live.
func (m *Match) Result() *domain.MatchResult {
	req := &resultRequest{reply: make(chan *domain.MatchResult, 1)}
	select {
	case m.resultQuery <- req:
		return <-req.reply
	case <-m.done:
		return nil
	}
}

// Shutdown stops the room goroutine without arbitration. Used only on
// server shutdown.
func (m *Match) Shutdown() {
	select {
	case <-m.done:
	default:
		close(m.stop)
		<-m.done
	}
}

// handleJoin admits, rejects or rebinds.
func (m *Match) handleJoin(req *joinRequest) {
	// Rebind beats everything else: a known userID reclaims its seat in
	// any state, preserving progress and strikes.
	if p := m.findParticipant(req.userID); p != nil {
		p.graceSeq++ // invalidates any pending grace timer
		p.client = req.client
		p.ConnectionID = req.client.connectionID
		p.Connected = true
		p.DisplayName = req.displayName
		m.log.Info().Str("user", req.userID).Msg("participant rebound")
		m.sendStateSync(req.client)
		return
	}

	if m.state == domain.RoomStateFinished {
		req.client.sendError("MATCH_FINISHED", "Match is already finished")
		return
	}

	if len(m.participants) >= domain.RoomCapacity {
		// Rejection must not mutate state.
		req.client.sendError("ROOM_FULL", "Room is full")
		return
	}

	p := &participant{
		Participant: domain.Participant{
			ConnectionID: req.client.connectionID,
			UserID:       req.userID,
			DisplayName:  req.displayName,
			Connected:    true,
			JoinedAt:     m.clock.Now(),
		},
		client: req.client,
	}
	m.participants = append(m.participants, p)

	m.log.Info().
		Str("user", req.userID).
		Int("participants", len(m.participants)).
		Msg("participant joined")

	if len(m.participants) == domain.RoomCapacity {
		m.beginStarting()
	}
	m.sendStateSync(req.client)
}

// beginStarting moves Waiting -> Starting: both seats are taken, the
// countdown starts and the problem snapshot is requested concurrently.
func (m *Match) beginStarting() {
	m.state = domain.RoomStateStarting
	m.countdownStarted = m.clock.Now()

	msg, _ := NewMessage(MessageTypeMatchFound, MatchFoundPayload{
		Duration: m.settings.Countdown.Milliseconds(),
	})
	m.broadcast(msg)

	m.startTimer(m.settings.Countdown, timerEvent{kind: timerCountdown})

	go m.fetchProblem()
}

// fetchProblem runs off the room goroutine and always delivers a snapshot:
// the configured provider with bounded retries, then the built-in fallback.
func (m *Match) fetchProblem() {
	ctx, cancel := context.WithTimeout(context.Background(), m.settings.Countdown+30*time.Second)
	defer cancel()

	provider := problems.NewRetryingProvider(m.provider, m.settings.FetchAttempts, m.log)
	problem, err := provider.Fetch(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("problem provider exhausted, using fallback problem")
		problem = problems.FallbackProblem()
	}

	select {
	case m.problemReady <- problem:
	case <-m.done:
	}
}

func (m *Match) handleProblemReady(problem *domain.Problem) {
	if m.problem != nil || m.state != domain.RoomStateStarting {
		// Assigned exactly once, never reassigned mid-match.
		return
	}
	m.problem = problem
	m.log.Info().Str("problem", problem.ID).Msg("problem snapshot assigned")
	m.maybeBeginPlaying()
}

// maybeBeginPlaying fires the Starting -> Playing transition once both the
// countdown has elapsed and the snapshot is ready.
func (m *Match) maybeBeginPlaying() {
	if m.state != domain.RoomStateStarting || !m.countdownDone || m.problem == nil {
		return
	}

	m.state = domain.RoomStatePlaying
	m.playingStarted = m.clock.Now()

	msg, _ := NewMessage(MessageTypeGameStart, GameStartPayload{
		Problem:      m.problem,
		GameDuration: m.settings.MatchDuration.Milliseconds(),
	})
	m.broadcast(msg)

	m.startTimer(m.settings.MatchDuration, timerEvent{kind: timerMatchExpiry})
	m.log.Info().Msg("match started")
}

func (m *Match) handleProgress(req *progressRequest) {
	if m.state != domain.RoomStatePlaying {
		return
	}
	p := m.findParticipant(req.userID)
	if p == nil {
		return
	}

	if req.progress < 0 {
		req.progress = 0
	}
	if req.progress > 100 {
		req.progress = 100
	}
	p.Progress = req.progress // last write wins

	// Forward to the opponent only, never echo back.
	if opp := m.opponentOf(p); opp != nil && opp.Connected {
		msg, _ := NewMessage(MessageTypeOpponentProgress, OpponentProgressPayload{
			Progress: req.progress,
		})
		opp.client.Send(msg)
	}
}

func (m *Match) handleVerdict(req *verdictRequest) {
	if m.state != domain.RoomStatePlaying {
		return
	}
	p := m.findParticipant(req.userID)
	if p == nil {
		return
	}

	m.handleProgress(&progressRequest{userID: req.userID, progress: judge.Progress(req.results)})

	if judge.AllPassed(req.results) {
		p.winVerified = true
		m.finish(p.UserID, domain.ReasonSubmission)
	}
}

// handleSubmissionSuccess re-checks the recorded verdict instead of
// trusting the client assertion. A compromised client gains nothing here:
// without a judge-verified full pass the intent is dropped.
func (m *Match) handleSubmissionSuccess(userID string) {
	if m.state != domain.RoomStatePlaying {
		return
	}
	p := m.findParticipant(userID)
	if p == nil {
		return
	}
	if !p.winVerified {
		m.log.Warn().Str("user", userID).Msg("unverified submission_success intent dropped")
		return
	}
	m.finish(p.UserID, domain.ReasonSubmission)
}

func (m *Match) handleDisqualify(userID string) {
	if m.state != domain.RoomStatePlaying {
		return
	}
	p := m.findParticipant(userID)
	if p == nil {
		return
	}

	if p.Strikes < domain.MaxStrikes {
		p.Strikes = domain.MaxStrikes
	}

	opp := m.opponentOf(p)
	if opp == nil {
		return
	}
	m.log.Info().Str("user", userID).Msg("participant disqualified")
	m.finish(opp.UserID, domain.ReasonDisqualification)
}

// handleLeave marks the participant disconnected and arms the reconnect
// grace timer. Returns true when the room should be disposed outright.
func (m *Match) handleLeave(client *Client) bool {
	p := m.findByConnection(client)
	if p == nil {
		return false
	}
	p.Connected = false
	p.client = nil

	m.log.Info().Str("user", p.UserID).Msg("participant disconnected")

	if m.state == domain.RoomStateFinished {
		return false
	}

	// Both gone before the match ever started: nothing to arbitrate.
	if m.state == domain.RoomStateWaiting && m.allDisconnected() {
		m.dispose()
		return true
	}

	p.graceSeq++
	m.startTimer(m.settings.ReconnectGrace, timerEvent{
		kind:     timerGrace,
		userID:   p.UserID,
		graceSeq: p.graceSeq,
	})
	return false
}

func (m *Match) handleTimer(ev timerEvent) bool {
	switch ev.kind {
	case timerCountdown:
		if m.state != domain.RoomStateStarting {
			return false
		}
		m.countdownDone = true
		m.maybeBeginPlaying()

	case timerMatchExpiry:
		m.handleMatchExpiry()

	case timerGrace:
		return m.handleGraceExpiry(ev)

	case timerRetention:
		m.dispose()
		return true
	}
	return false
}

// handleMatchExpiry arbitrates a timeout: higher last-reported progress
// wins; equal progress goes to whichever participant joined first.
func (m *Match) handleMatchExpiry() {
	if m.state != domain.RoomStatePlaying {
		return
	}
	if len(m.participants) < domain.RoomCapacity {
		return
	}

	winner := m.participants[0]
	if m.participants[1].Progress > winner.Progress {
		winner = m.participants[1]
	}
	m.finish(winner.UserID, domain.ReasonTimeout)
}

func (m *Match) handleGraceExpiry(ev timerEvent) bool {
	if m.state == domain.RoomStateFinished {
		return false
	}
	p := m.findParticipant(ev.userID)
	if p == nil || p.Connected || p.graceSeq != ev.graceSeq {
		// Rebound in time; stale timer.
		return false
	}

	opp := m.opponentOf(p)
	if opp != nil && opp.Connected {
		m.log.Info().Str("user", p.UserID).Msg("reconnect grace expired")
		m.finish(opp.UserID, domain.ReasonOpponentDisconnect)
		return false
	}

	// Opponent is gone too (or never arrived): void the room.
	if m.allDisconnected() {
		m.dispose()
		return true
	}
	return false
}

// finish is the single terminal transition. Finished is absorbing: the
// first trigger wins and every later one is a silent no-op.
func (m *Match) finish(winnerUserID string, reason domain.Reason) {
	if m.state == domain.RoomStateFinished {
		return
	}
	m.state = domain.RoomStateFinished
	m.result = &domain.MatchResult{
		WinnerUserID: winnerUserID,
		Reason:       reason,
	}

	m.log.Info().
		Str("winner", winnerUserID).
		Str("reason", string(reason)).
		Msg("match finished")

	msg, _ := NewMessage(MessageTypeGameOver, GameOverPayload{
		WinnerID: winnerUserID,
		Reason:   reason,
	})
	m.broadcast(msg)

	go m.persistResult()

	// Keep the finished room queryable for a while, then dispose.
	m.startTimer(m.settings.Retention, timerEvent{kind: timerRetention})
}

func (m *Match) persistResult() {
	if m.hub.records == nil {
		return
	}

	progress := make(map[string]int, len(m.participants))
	for _, p := range m.participants {
		progress[p.UserID] = p.Progress
	}
	progressJSON, _ := json.Marshal(progress)

	problemID := ""
	if m.problem != nil {
		problemID = m.problem.ID
	}

	record := &domain.MatchRecord{
		RoomID:       m.id,
		ProblemID:    problemID,
		WinnerUserID: m.result.WinnerUserID,
		Reason:       m.result.Reason,
		Progress:     progressJSON,
		FinishedAt:   m.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.hub.records.Create(ctx, record); err != nil {
		m.log.Error().Err(err).Msg("failed to persist match record")
	}
}

func (m *Match) dispose() {
	m.hub.removeRoom(m.id)
	m.log.Info().Msg("room disposed")
}

func (m *Match) handleUserQuery(userID string) userView {
	p := m.findParticipant(userID)
	if p == nil {
		return userView{state: m.state, err: domain.ErrNotInRoom}
	}
	if m.state == domain.RoomStateFinished {
		return userView{state: m.state, err: domain.ErrMatchFinished}
	}
	if m.state != domain.RoomStatePlaying || m.problem == nil {
		return userView{state: m.state, err: domain.ErrNotPlaying}
	}
	return userView{problem: m.problem, state: m.state}
}

func (m *Match) sendStateSync(client *Client) {
	p := m.findByConnection(client)
	if p == nil {
		return
	}

	payload := StateSyncPayload{
		RoomID:       m.id,
		State:        m.state,
		YourProgress: p.Progress,
		YourStrikes:  p.Strikes,
		Result:       m.result,
	}

	switch m.state {
	case domain.RoomStateStarting:
		payload.CountdownRemaining = m.remaining(m.countdownStarted, m.settings.Countdown)
	case domain.RoomStatePlaying:
		payload.MatchRemaining = m.remaining(m.playingStarted, m.settings.MatchDuration)
		payload.Problem = m.problem
	}

	if opp := m.opponentOf(p); opp != nil {
		payload.OpponentName = opp.DisplayName
		payload.OpponentProgress = opp.Progress
		payload.OpponentConnected = opp.Connected
	}

	msg, _ := NewMessage(MessageTypeStateSync, payload)
	client.Send(msg)
}

func (m *Match) remaining(since time.Time, total time.Duration) int64 {
	elapsed := m.clock.Now().Sub(since)
	left := total - elapsed
	if left < 0 {
		left = 0
	}
	return left.Milliseconds()
}

// startTimer arms a one-shot timer whose expiry is delivered back into the
// room goroutine. Stale expiries are filtered by state and graceSeq checks
// in the handlers, so timers never need explicit cancellation.
func (m *Match) startTimer(d time.Duration, ev timerEvent) {
	timer := m.clock.NewTimer(d)
	go func() {
		select {
		case <-timer.Chan():
			select {
			case m.timers <- ev:
			case <-m.done:
			}
		case <-m.done:
			timer.Stop()
		}
	}()
}

func (m *Match) broadcast(msg *Message) {
	for _, p := range m.participants {
		if p.Connected && p.client != nil {
			p.client.Send(msg)
		}
	}
}

func (m *Match) findParticipant(userID string) *participant {
	for _, p := range m.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (m *Match) findByConnection(client *Client) *participant {
	for _, p := range m.participants {
		if p.client == client {
			return p
		}
	}
	return nil
}

func (m *Match) opponentOf(p *participant) *participant {
	for _, other := range m.participants {
		if other != p {
			return other
		}
	}
	return nil
}

func (m *Match) allDisconnected() bool {
	for _, p := range m.participants {
		if p.Connected {
			return false
		}
	}
	return true
}
