package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"griddca/internal/command"
	"griddca/internal/engine"
	"griddca/internal/store/journal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	got []command.Command
}

func (f *fakeEngine) Snapshot() engine.View {
	return engine.View{Symbol: "XAUUSD", Status: "running", CyclesCompleted: 2}
}

func (f *fakeEngine) SubmitSync(ctx context.Context, cmd command.Command, source string) (engine.Reply, error) {
	f.got = append(f.got, cmd)
	return engine.Reply{Text: "ok " + cmd.Name()}, nil
}

func (f *fakeEngine) ChartHTML(ctx context.Context, hours int) ([]byte, error) {
	return []byte("<html>chart</html>"), nil
}

type fakeEvents struct{}

func (fakeEvents) Recent(ctx context.Context, typ string, limit int) ([]journal.Event, error) {
	return []journal.Event{{ID: 1, Type: typ, Payload: json.RawMessage(`{"a":1}`)}}, nil
}

func newTestServer(t *testing.T, eng *fakeEngine) http.Handler {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "griddca.log")
	require.NoError(t, os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644))
	srv, err := NewServer(ServerConfig{
		Engine:   eng,
		Journal:  fakeEvents{},
		LogPaths: map[string]string{"app": logPath},
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Routes(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(t, eng)

	w := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view engine.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "running", view.Status)
	assert.Equal(t, 2, view.CyclesCompleted)

	w = do(h, http.MethodGet, "/api/chart?hours=6", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = do(h, http.MethodGet, "/api/events?type=guard&limit=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"guard"`)

	w = do(h, http.MethodGet, "/api/cycles", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(h, http.MethodGet, "/api/logs?limit=2", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lines":["two","three"]`)

	w = do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Commands(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(t, eng)

	w := do(h, http.MethodPost, "/api/commands", `{"text":"/set-max-orders 8"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "set-max-orders", resp.Command)
	assert.Equal(t, "ok set-max-orders", resp.Reply)
	require.Len(t, eng.got, 1)
	assert.Equal(t, command.SetMaxOrders{Value: 8}, eng.got[0])

	w = do(h, http.MethodPost, "/api/commands", `{"text":"fly away"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "usage")
	assert.Len(t, eng.got, 1, "parse failures never reach the engine")

	w = do(h, http.MethodPost, "/api/commands", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Engine: &fakeEngine{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		return !strings.HasSuffix(srv.Addr(), ":0")
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
