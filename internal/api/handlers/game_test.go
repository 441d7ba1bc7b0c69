package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/judge"
	"github.com/dom/code-arena/internal/testutil"
)

const wsTimeout = 5 * time.Second

func TestRun_ValidatesRequest(t *testing.T) {
	ts := testutil.NewTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "empty source",
			body: map[string]interface{}{
				"roomId": "r1", "userId": "u1", "sourceCode": "   ", "language": "python",
			},
		},
		{
			name: "unknown language",
			body: map[string]interface{}{
				"roomId": "r1", "userId": "u1", "sourceCode": "print(1)", "language": "cobol",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, ts.APIURL("/game/run"), tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRun_RequiresActiveMatch(t *testing.T) {
	ts := testutil.NewTestServer(t)

	// Unknown room.
	status, _ := post(t, ts.APIURL("/game/run"), map[string]interface{}{
		"roomId": "missing", "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	assert.Equal(t, http.StatusNotFound, status)

	// Known room, still waiting for the second participant.
	roomID := testutil.UniqueRoomID()
	ws := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws.JoinRoom(roomID, "Alice", "u1")
	ws.ExpectStateSync(wsTimeout)

	status, _ = post(t, ts.APIURL("/game/run"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestRun_RejectsNonParticipant(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	status, _ := post(t, ts.APIURL("/game/run"), map[string]interface{}{
		"roomId": roomID, "userId": "stranger", "sourceCode": "print(1)", "language": "python",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRun_ExecutesSamplesOnly(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	start := ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	var seenCases int
	ts.Judge.SetScript(func(_ string, _ domain.Language, cases []domain.TestCase) ([]judge.CaseResult, error) {
		seenCases = len(cases)
		results := make([]judge.CaseResult, len(cases))
		for i, tc := range cases {
			results[i] = judge.CaseResult{Input: tc.Input, Expected: tc.Expected, Actual: tc.Expected, Passed: true}
		}
		return results, nil
	})

	status, body := post(t, ts.APIURL("/game/run"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, len(start.Problem.Samples), seenCases)

	// Diagnostic only: the opponent sees no progress from a run.
	ws2.ExpectNoMessage(200 * time.Millisecond)
}

func TestRun_JudgeFailureIsBadGateway(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	ts.Judge.Fail(errors.New("executor down"))

	status, body := post(t, ts.APIURL("/game/run"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "Execution Failed", body["message"])
}

func TestSubmit_JudgeFailureNeverEndsMatch(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	ts.Judge.Fail(errors.New("executor down"))

	status, body := post(t, ts.APIURL("/game/submit"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["message"], "Runtime Error")

	// The room is untouched and the participant can retry.
	ws1.RequestSync(roomID)
	sync := ws1.ExpectStateSync(wsTimeout)
	assert.Equal(t, domain.RoomStatePlaying, sync.State)

	ts.Judge.PassAll()
	status, body = post(t, ts.APIURL("/game/submit"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)", "language": "python",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isWin"])
}

func TestSubmit_RejectsMismatchedProblem(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	status, body := post(t, ts.APIURL("/game/submit"), map[string]interface{}{
		"roomId": roomID, "userId": "u1", "sourceCode": "print(1)",
		"language": "python", "problemId": "SOME_OTHER_PROBLEM",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["message"])
}

func TestResult_NotFoundForUnknownRoom(t *testing.T) {
	ts := testutil.NewTestServer(t)

	resp, err := http.Get(ts.APIURL("/game/nosuchroom/result"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResult_ConflictWhileMatchLive(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ws1, ws2, roomID := startPlaying(t, ts)
	ws1.ExpectGameStart(wsTimeout)
	ws2.ExpectGameStart(wsTimeout)

	resp, err := http.Get(ts.APIURL("/game/" + roomID + "/result"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func startPlaying(t *testing.T, ts *testutil.TestServer) (*testutil.WSClient, *testutil.WSClient, string) {
	t.Helper()

	roomID := testutil.UniqueRoomID()

	ws1 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws1.JoinRoom(roomID, "Alice", "u1")
	ws1.ExpectStateSync(wsTimeout)

	ws2 := testutil.NewWSClient(t, ts.WebSocketURL(""))
	ws2.JoinRoom(roomID, "Bob", "u2")
	ws1.ExpectMatchFound(wsTimeout)
	ws2.ExpectMatchFound(wsTimeout)
	ws2.ExpectStateSync(wsTimeout)

	ts.AdvanceClock(1, ts.Config.CountdownDuration)

	return ws1, ws2, roomID
}

func post(t *testing.T, url string, body map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}
