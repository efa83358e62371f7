package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dronecraft.ai/internal/protocol"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/tuning"
)

func startServer(t *testing.T) (*scheduler.Scheduler, *httptest.Server) {
	t.Helper()
	cfg := tuning.Defaults()
	cfg.TickRateHz = 100
	cfg.WorldBoundaryR = 64
	sched, err := scheduler.New(scheduler.Config{WorldID: "ws_test", Tuning: cfg}, catalogs.Default(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	srv, err := NewServer(sched, zaptest.NewLogger(t))
	require.NoError(t, err)
	mux := http.NewServeMux()
	srv.Register(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return sched, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHandshakeAndCommands(t *testing.T) {
	_, hs := startServer(t)
	conn := dial(t, hs)

	welcome := send(t, conn, `{"type":"HELLO","protocol_version":"1.0","client_name":"planner"}`)
	require.Equal(t, protocol.TypeWelcome, welcome["type"])
	require.Equal(t, "ws_test", welcome["world_id"])
	require.NotEmpty(t, welcome["session_id"])
	require.Contains(t, welcome["blueprints"], "stone_pillar_3")

	res := send(t, conn, `{"type":"DECLARE","protocol_version":"1.0","req_id":"a","name":"wall","cells":[{"pos":[0,0,0],"state":"STONE"},{"pos":[1,0,0],"state":"STONE"}]}`)
	require.Equal(t, protocol.TypeResult, res["type"])
	require.Equal(t, true, res["ok"], "%v", res)
	require.Equal(t, "a", res["req_id"])
	require.EqualValues(t, 2, res["applied"])

	res = send(t, conn, `{"type":"DECLARE","protocol_version":"1.0","req_id":"b","cells":[{"pos":[0,0,0],"state":"UNOBTAINIUM"}]}`)
	require.Equal(t, false, res["ok"])
	require.Equal(t, protocol.ErrInvalidTarget, res["code"])

	res = send(t, conn, `{"type":"DECLARE","protocol_version":"1.0","req_id":"c","cells":[{"pos":[900,0,0],"state":"STONE"}]}`)
	require.Equal(t, protocol.ErrOutOfBounds, res["code"])

	res = send(t, conn, `{"type":"DECLARE","protocol_version":"1.0","req_id":"d","cells":[]}`)
	require.Equal(t, protocol.ErrProtoBadRequest, res["code"])

	res = send(t, conn, `{"type":"BLUEPRINT","protocol_version":"1.0","req_id":"e","blueprint_id":"missing","anchor":[0,0,0]}`)
	require.Equal(t, protocol.ErrNoResource, res["code"])

	res = send(t, conn, `{"type":"BLUEPRINT","protocol_version":"1.0","req_id":"f","blueprint_id":"stone_pillar_3","anchor":[5,0,5]}`)
	require.Equal(t, true, res["ok"], "%v", res)
	plan := res["plan"].(map[string]any)
	require.EqualValues(t, 3, plan["cells"])

	res = send(t, conn, `{"type":"UNDO","protocol_version":"1.0","req_id":"g"}`)
	require.Equal(t, "blueprint:stone_pillar_3", res["action"])

	res = send(t, conn, `{"type":"REDO","protocol_version":"1.0","req_id":"h"}`)
	require.Equal(t, true, res["ok"])

	res = send(t, conn, `{"type":"REDO","protocol_version":"1.0","req_id":"i"}`)
	require.Equal(t, protocol.ErrNothingToRedo, res["code"])

	res = send(t, conn, `{"type":"SPAWN","protocol_version":"1.0","req_id":"j","pos":[0,0,3]}`)
	require.Equal(t, true, res["ok"], "%v", res)
	require.Equal(t, "D1", res["drone_id"])

	res = send(t, conn, `{"type":"JOBS","protocol_version":"1.0","req_id":"k"}`)
	require.Equal(t, protocol.TypeJobsSnapshot, res["type"])
	require.Equal(t, "k", res["req_id"])

	res = send(t, conn, `{"type":"OBS","protocol_version":"1.0"}`)
	require.Equal(t, protocol.ErrUnknownType, res["code"])

	res = send(t, conn, `{"type":"UNDO","protocol_version":"0.1"}`)
	require.Equal(t, protocol.ErrProtoVersion, res["code"])
}

func TestHandshakeRejectsWrongFirstMessage(t *testing.T) {
	_, hs := startServer(t)
	conn := dial(t, hs)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UNDO","protocol_version":"1.0"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

func TestHTTPEndpoints(t *testing.T) {
	sched, hs := startServer(t)
	_, err := sched.DeclareIntentBatch("one", nil)
	require.ErrorIs(t, err, scheduler.ErrEmptyBatch)

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/v1/jobs")
	require.NoError(t, err)
	var jobs struct {
		WorldID string              `json:"world_id"`
		Jobs    []protocol.JobEntry `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	resp.Body.Close()
	require.Equal(t, "ws_test", jobs.WorldID)

	resp, err = http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), `dronecraft_tick{world="ws_test"}`)

	resp, err = http.Post(hs.URL+"/v1/jobs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
