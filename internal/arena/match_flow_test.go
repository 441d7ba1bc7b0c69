package arena_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/testutil"
)

const defaultTimeout = 5 * time.Second

func TestMatchFlow_JoinRoom(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	ws := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws.JoinRoom(roomID, "Alice", "u1")

	view := ws.ExpectStateSync(defaultTimeout)

	assert.Equal(t, roomID, view.RoomID)
	assert.Equal(t, domain.RoomStateWaiting, view.State)
	assert.Equal(t, 0, view.YourProgress)
	assert.Equal(t, 0, view.YourStrikes)
	assert.Empty(t, view.OpponentName)
}

func TestMatchFlow_SecondJoinStartsCountdown(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws1.ExpectStateSync(defaultTimeout)

	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")

	found1 := ws1.ExpectMatchFound(defaultTimeout)
	found2 := ws2.ExpectMatchFound(defaultTimeout)

	assert.Equal(t, ts.Config.CountdownDuration.Milliseconds(), found1.Duration)
	assert.Equal(t, found1.Duration, found2.Duration)

	view := ws2.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStateStarting, view.State)
	assert.Equal(t, "Alice", view.OpponentName)
}

func TestMatchFlow_GameStartsAfterCountdown(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, _ := startPlayingMatch(t, ts)

	start1 := ws1.ExpectGameStart(defaultTimeout)
	start2 := ws2.ExpectGameStart(defaultTimeout)

	require.NotNil(t, start1.Problem)
	assert.Equal(t, start1.Problem.ID, start2.Problem.ID)
	assert.Equal(t, ts.Config.MatchDuration.Milliseconds(), start1.GameDuration)
	assert.NotEmpty(t, start1.Problem.Samples)
	// Hidden cases must never reach a client.
	assert.Empty(t, start1.Problem.Hidden)
}

func TestMatchFlow_ThirdJoinRejected(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")

	ws3 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws3.JoinRoom(roomID, "Carol", "u3")
	ws3.ExpectErrorWithCode("ROOM_FULL", defaultTimeout)

	// The rejected join must not have disturbed the existing pair.
	ws2.DrainMessages()
	ws2.RequestSync(roomID)
	view := ws2.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStateStarting, view.State)
	assert.Equal(t, "Alice", view.OpponentName)
}

func TestMatchFlow_ConcurrentJoinsAdmitExactlyTwo(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	const contenders = 5
	type player struct {
		ws     *testutil.WSClient
		userID string
		name   string
	}
	players := make([]player, contenders)
	for i := range players {
		players[i] = player{
			ws:     testutil.NewWSClient(t, ts.WebSocketURL("")),
			userID: fmt.Sprintf("u%d", i+1),
			name:   fmt.Sprintf("Player%d", i+1),
		}
	}

	// Fire every join at once; the room must admit exactly two no matter
	// how the joins interleave.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p player) {
			defer wg.Done()
			<-start
			p.ws.JoinRoom(roomID, p.name, p.userID)
		}(p)
	}
	close(start)
	wg.Wait()

	var admitted []player
	rejected := 0
	for _, p := range players {
		msg := p.ws.NextMessage(defaultTimeout)
		if msg.Type == arena.MessageTypeError {
			var e arena.ErrorPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &e))
			assert.Equal(t, "ROOM_FULL", e.Code)
			rejected++
			continue
		}
		admitted = append(admitted, p)
	}

	require.Len(t, admitted, 2)
	assert.Equal(t, contenders-2, rejected)

	// The admitted pair must still be intact and bound to each other.
	for i, p := range admitted {
		p.ws.DrainMessages()
		p.ws.RequestSync(roomID)
		view := p.ws.ExpectStateSync(defaultTimeout)
		assert.Equal(t, domain.RoomStateStarting, view.State)
		assert.Equal(t, admitted[1-i].name, view.OpponentName)
	}
}

func TestMatchFlow_ProgressRelayedToOpponentOnly(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.UpdateProgress(roomID, 40)

	progress := ws2.ExpectOpponentProgress(defaultTimeout)
	assert.Equal(t, 40, progress.Progress)

	// The sender must never see its own progress echoed back.
	ws1.ExpectNoMessage(200 * time.Millisecond)
}

func TestMatchFlow_ProgressClamped(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.UpdateProgress(roomID, 150)
	assert.Equal(t, 100, ws2.ExpectOpponentProgress(defaultTimeout).Progress)

	ws1.UpdateProgress(roomID, -10)
	assert.Equal(t, 0, ws2.ExpectOpponentProgress(defaultTimeout).Progress)
}

func TestMatchFlow_ProgressIgnoredBeforePlaying(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws1.ExpectStateSync(defaultTimeout)
	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")
	ws1.ExpectMatchFound(defaultTimeout)
	ws2.ExpectMatchFound(defaultTimeout)

	// Still in Starting: progress updates are dropped.
	ws1.UpdateProgress(roomID, 50)
	ws2.DrainMessages()

	ws2.RequestSync(roomID)
	view := ws2.ExpectStateSync(defaultTimeout)
	assert.Equal(t, 0, view.OpponentProgress)
}

func TestMatchFlow_VerifiedSubmissionWins(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ts.Judge.PassAll()
	resp := submit(t, ts, roomID, "u1", "solution code")
	assert.True(t, resp.IsWin)

	over1 := ws1.ExpectGameOver(defaultTimeout)
	over2 := ws2.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u1", over1.WinnerID)
	assert.Equal(t, domain.ReasonSubmission, over1.Reason)
	assert.Equal(t, *over1, *over2)
}

func TestMatchFlow_PartialSubmissionUpdatesProgressOnly(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	// 2 of the 4 hidden cases pass.
	ts.Judge.PassN(2)
	resp := submit(t, ts, roomID, "u1", "half a solution")
	assert.False(t, resp.IsWin)

	progress := ws2.ExpectOpponentProgress(defaultTimeout)
	assert.Equal(t, 50, progress.Progress)
	ws1.ExpectNoMessage(200 * time.Millisecond)
}

func TestMatchFlow_UnverifiedSuccessClaimIgnored(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	// No judge-backed verdict was ever recorded for u1, so the claim is
	// dropped and the match keeps going.
	ws1.ClaimSubmissionSuccess(roomID)
	ws1.ExpectNoMessage(200 * time.Millisecond)
	ws2.ExpectNoMessage(200 * time.Millisecond)

	ws1.RequestSync(roomID)
	view := ws1.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStatePlaying, view.State)
}

func TestMatchFlow_SuccessClaimAfterVerdictFinishes(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ts.Judge.PassAll()
	resp := submit(t, ts, roomID, "u1", "solution code")
	require.True(t, resp.IsWin)

	over := ws2.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u1", over.WinnerID)

	// The redundant client-side claim arrives after the verdict already
	// finished the match: silently absorbed.
	ws1.ClaimSubmissionSuccess(roomID)
	ws2.ExpectNoMessage(200 * time.Millisecond)
}

func TestMatchFlow_Disqualification(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.ReportDisqualified(roomID)

	over := ws2.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u2", over.WinnerID)
	assert.Equal(t, domain.ReasonDisqualification, over.Reason)
}

func TestMatchFlow_DisqualifyBeforePlayingIgnored(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws1.ExpectStateSync(defaultTimeout)
	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")
	ws1.ExpectMatchFound(defaultTimeout)
	ws2.ExpectMatchFound(defaultTimeout)

	ws1.ReportDisqualified(roomID)
	ws2.DrainMessages()

	ws2.RequestSync(roomID)
	view := ws2.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStateStarting, view.State)
	assert.Nil(t, view.Result)
}

func TestMatchFlow_TimeoutHigherProgressWins(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.UpdateProgress(roomID, 80)
	ws2.ExpectOpponentProgress(defaultTimeout)
	ws2.UpdateProgress(roomID, 40)
	ws1.ExpectOpponentProgress(defaultTimeout)

	ts.AdvanceClock(1, ts.Config.MatchDuration)

	over := ws1.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u1", over.WinnerID)
	assert.Equal(t, domain.ReasonTimeout, over.Reason)
}

func TestMatchFlow_TimeoutTieGoesToFirstJoiner(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.UpdateProgress(roomID, 60)
	ws2.ExpectOpponentProgress(defaultTimeout)
	ws2.UpdateProgress(roomID, 60)
	ws1.ExpectOpponentProgress(defaultTimeout)

	ts.AdvanceClock(1, ts.Config.MatchDuration)

	over := ws2.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u1", over.WinnerID)
	assert.Equal(t, domain.ReasonTimeout, over.Reason)
}

func TestMatchFlow_FinishedIsAbsorbing(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ts.Judge.PassAll()
	submit(t, ts, roomID, "u1", "solution code")
	ws1.ExpectGameOver(defaultTimeout)
	ws2.ExpectGameOver(defaultTimeout)

	// Any later terminal trigger is a silent no-op: the recorded result
	// never changes.
	ws2.ReportDisqualified(roomID)
	ws1.ExpectNoMessage(200 * time.Millisecond)

	ws1.RequestSync(roomID)
	view := ws1.ExpectStateSync(defaultTimeout)
	require.NotNil(t, view.Result)
	assert.Equal(t, "u1", view.Result.WinnerUserID)
	assert.Equal(t, domain.ReasonSubmission, view.Result.Reason)
}

func TestMatchFlow_JoinFinishedMatchRejected(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ts.Judge.PassAll()
	submit(t, ts, roomID, "u1", "solution code")
	ws1.ExpectGameOver(defaultTimeout)

	ws3 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws3.JoinRoom(roomID, "Carol", "u3")
	ws3.ExpectErrorWithCode("MATCH_FINISHED", defaultTimeout)
}

func TestMatchFlow_ReconnectPreservesProgress(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.UpdateProgress(roomID, 60)
	ws2.ExpectOpponentProgress(defaultTimeout)

	ws1.Close()

	// Same identity, new connection: the seat is reclaimed with progress
	// and strikes intact.
	ws1b := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1b.JoinRoom(roomID, "Alice", "u1")

	view := ws1b.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStatePlaying, view.State)
	assert.Equal(t, 60, view.YourProgress)
	assert.Equal(t, "Bob", view.OpponentName)
	require.NotNil(t, view.Problem)

	// The relay still works on the new connection.
	ws1b.UpdateProgress(roomID, 70)
	assert.Equal(t, 70, ws2.ExpectOpponentProgress(defaultTimeout).Progress)
}

func TestMatchFlow_GraceExpiryForfeitsMatch(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, _ := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.Close()

	// Armed timers: match expiry plus the grace window. Advancing past the
	// grace window forfeits in favor of the connected opponent.
	ts.AdvanceClock(2, ts.Config.ReconnectGrace)

	over := ws2.ExpectGameOver(defaultTimeout)
	assert.Equal(t, "u2", over.WinnerID)
	assert.Equal(t, domain.ReasonOpponentDisconnect, over.Reason)
}

func TestMatchFlow_ReconnectWithinGraceAvoidsForfeit(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ws1.Close()

	ws1b := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1b.JoinRoom(roomID, "Alice", "u1")
	ws1b.ExpectStateSync(defaultTimeout)

	// The stale grace timer fires but must be a no-op after the rebind.
	ts.AdvanceClock(2, ts.Config.ReconnectGrace)

	ws2.ExpectNoMessage(200 * time.Millisecond)

	ws1b.RequestSync(roomID)
	view := ws1b.ExpectStateSync(defaultTimeout)
	assert.Equal(t, domain.RoomStatePlaying, view.State)
}

func TestMatchFlow_ResultSurvivesRoomDisposal(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlayingMatch(t, ts)
	ws1.ExpectGameStart(defaultTimeout)
	ws2.ExpectGameStart(defaultTimeout)

	ts.Judge.PassAll()
	submit(t, ts, roomID, "u1", "solution code")
	ws1.ExpectGameOver(defaultTimeout)

	// While retained, the live room answers.
	result := getResult(t, ts, roomID)
	assert.Equal(t, "u1", result.WinnerID)
	assert.Equal(t, domain.ReasonSubmission, result.Reason)

	// The record lands asynchronously.
	require.Eventually(t, func() bool {
		record, err := ts.Repos.MatchRecord.GetByRoomID(context.Background(), roomID)
		return err == nil && record != nil
	}, defaultTimeout, 10*time.Millisecond)

	// Armed timers: match expiry plus retention. Fire retention.
	ts.AdvanceClock(2, ts.Config.RetentionWindow)
	require.Eventually(t, func() bool {
		return ts.Hub.Room(roomID) == nil
	}, defaultTimeout, 10*time.Millisecond)

	// After disposal the persisted record answers.
	result = getResult(t, ts, roomID)
	assert.Equal(t, "u1", result.WinnerID)
	assert.Equal(t, domain.ReasonSubmission, result.Reason)
}

func TestMatchFlow_TokenIdentityWinsOverPayload(t *testing.T) {
	ts := testutil.NewTestServer(t)
	roomID := testutil.UniqueRoomID()

	token := ts.SignToken(t, "verified_user", "Verified")
	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(token))
	// The payload claims a different identity; the token wins.
	ws1.JoinRoom(roomID, "Impostor", "someone_else")
	ws1.ExpectStateSync(defaultTimeout)

	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")
	ws2.ExpectMatchFound(defaultTimeout)
	view := ws2.ExpectStateSync(defaultTimeout)
	assert.Equal(t, "Verified", view.OpponentName)
}

// startPlayingMatch joins two guests into a fresh room and advances the
// fake clock through the countdown. Callers consume the game_start
// messages themselves.
func startPlayingMatch(t *testing.T, ts *testutil.TestServer) (*testutil.WSClient, *testutil.WSClient, string) {
	t.Helper()

	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws1.ExpectStateSync(defaultTimeout)

	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")

	ws1.ExpectMatchFound(defaultTimeout)
	ws2.ExpectMatchFound(defaultTimeout)
	ws2.ExpectStateSync(defaultTimeout)

	ts.AdvanceClock(1, ts.Config.CountdownDuration)

	return ws1, ws2, roomID
}

func submit(t *testing.T, ts *testutil.TestServer, roomID, userID, source string) *submitResponse {
	t.Helper()

	body := map[string]interface{}{
		"roomId":     roomID,
		"userId":     userID,
		"sourceCode": source,
		"language":   "python",
	}
	var resp submitResponse
	postJSON(t, ts.APIURL("/game/submit"), body, http.StatusOK, &resp)
	return &resp
}

func getResult(t *testing.T, ts *testutil.TestServer, roomID string) *resultResponse {
	t.Helper()

	resp, err := http.Get(ts.APIURL(fmt.Sprintf("/game/%s/result", roomID)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result resultResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return &result
}

func postJSON(t *testing.T, url string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

type submitResponse struct {
	Results []struct {
		Passed bool `json:"passed"`
	} `json:"results"`
	IsWin bool `json:"isWin"`
}

type resultResponse struct {
	WinnerID string        `json:"winnerId"`
	Reason   domain.Reason `json:"reason"`
}
