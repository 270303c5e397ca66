package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PManghan91/boardroom/internal/config"
	"github.com/PManghan91/boardroom/internal/dispatcher"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/logging"
	"github.com/PManghan91/boardroom/internal/service"
	"github.com/PManghan91/boardroom/tests/helpers"
)

type unboundInvoker struct{}

func (unboundInvoker) Invoke(ctx context.Context, rc dispatcher.RoundContext) (dispatcher.Result, error) {
	return dispatcher.Result{AgentID: rc.Agent.ID, Unbound: true}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		WorkerCount:         2,
		BatchSize:           16,
		ClaimLease:          30 * time.Second,
		PollInterval:        10 * time.Millisecond,
		MaxRetryAttempts:    3,
		BackoffBase:         10 * time.Millisecond,
		BackoffCap:          100 * time.Millisecond,
		MaxInFlightRooms:    8,
		MaxPendingPerRoom:   2,
		DedupWindow:         time.Hour,
		DecisionDeadline:    time.Minute,
		MaxDecisionDeadline: time.Hour,
		DefaultQuorum:       1,
		RoundTimeout:        time.Minute,
		TimerSweepInterval:  time.Hour,
	}
}

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	svc := service.New(helpers.NewTestSQLiteStore(t), unboundInvoker{}, testConfig(), service.Options{Logger: logging.Discard()})
	return NewHandler(svc, nil), svc
}

func appendEvent(t *testing.T, h *Handler, room, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/"+room+"/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("room_id")
	c.SetParamValues(room)
	require.NoError(t, h.AppendEvent(c))
	return rec
}

func TestAppendEvent(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := appendEvent(t, h, "demo", `{"author":"chair","payload":{"type":"start_session","topic":"Vendor"},"client_msg_id":"m1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp domain.AppendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "demo", resp.RoomID)
	assert.Equal(t, int64(1), resp.Offset)
	assert.False(t, resp.Duplicate)

	rec = appendEvent(t, h, "demo", `{"author":"chair","payload":{"type":"start_session","topic":"Vendor"},"client_msg_id":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Offset)
	assert.True(t, resp.Duplicate)
}

func TestAppendEventErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := appendEvent(t, h, "demo", `{"author":"chair","payload":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = appendEvent(t, h, "demo", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// MaxPendingPerRoom is 2 and nothing consumes the log.
	appendEvent(t, h, "busy", `{"author":"a","payload":{"type":"join","agent":{"id":"x","domain":"ops"}}}`)
	appendEvent(t, h, "busy", `{"author":"a","payload":{"type":"join","agent":{"id":"y","domain":"ops"}}}`)
	rec = appendEvent(t, h, "busy", `{"author":"a","payload":{"type":"join","agent":{"id":"z","domain":"ops"}}}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestTerminatedRoomRejectsAppend(t *testing.T) {
	h, _ := newTestHandler(t)
	appendEvent(t, h, "demo", `{"author":"chair","payload":{"type":"start_session","topic":"Vendor"}}`)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/demo/terminate", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("room_id")
	c.SetParamValues("demo")
	require.NoError(t, h.TerminateRoom(c))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = appendEvent(t, h, "demo", `{"author":"chair","payload":{"type":"cancel_session"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetSnapshotNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/nope/snapshot", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("room_id")
	c.SetParamValues("nope")
	require.NoError(t, h.GetSnapshot(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSnapshotAfterProcessing(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	appendEvent(t, h, "demo", `{"author":"chair","payload":{"type":"start_session","topic":"Vendor","agents":[{"id":"cfo","domain":"finance"}]}}`)

	e := echo.New()
	var snap domain.SnapshotResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/rooms/demo/snapshot", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("room_id")
		c.SetParamValues("demo")
		if err := h.GetSnapshot(c); err != nil || rec.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rec.Body.Bytes(), &snap) == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(1), snap.LastCommittedOffset)
	assert.NotEmpty(t, snap.SessionState)
}

func TestReplayDeadLetterBadID(t *testing.T) {
	h, _ := newTestHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/dead_letters/abc/replay", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")
	require.NoError(t, h.ReplayDeadLetter(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/dead_letters/42/replay", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("42")
	require.NoError(t, h.ReplayDeadLetter(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/dead_letters", nil), rec)
	require.NoError(t, h.ListDeadLetters(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dead_letters":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/rooms/demo/decisions", nil), rec)
	c.SetParamNames("room_id")
	c.SetParamValues("demo")
	require.NoError(t, h.ListDecisions(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"decisions":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, h.Health(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var health domain.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.DeadLetteredCount)
}
