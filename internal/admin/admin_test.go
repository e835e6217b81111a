package admin

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

	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T, token string) (*Server, *history.Store, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	received := filepath.Join(dir, "received")
	if err := os.MkdirAll(received, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	srv := New(Config{DeviceName: "bench-01", Token: token, ReceivedDir: received}, store)
	return srv, store, received
}

func get(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestPingAndHealth(t *testing.T) {
	testlog.Start(t)
	srv, _, _ := newTestServer(t, "")

	w := get(t, srv, "/ping", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ping status=%d", w.Code)
	}
	var ping map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &ping); err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if ping["app"] != AppName || ping["device_name"] != "bench-01" || ping["version"] != Version {
		t.Fatalf("unexpected ping: %v", ping)
	}

	if w := get(t, srv, "/health", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("health status=%d body=%s", w.Code, w.Body.String())
	}
	if w := get(t, srv, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", w.Code)
	}
}

func TestListTransfers(t *testing.T) {
	testlog.Start(t)
	srv, store, _ := newTestServer(t, "")
	ctx := context.Background()
	now := time.Now()
	for i, dir := range []history.Direction{history.DirectionSent, history.DirectionReceived, history.DirectionReceived} {
		err := store.Record(ctx, history.Transfer{
			Direction: dir,
			Name:      "f.txt",
			Status:    history.StatusCompleted,
			StartedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	w := get(t, srv, "/transfers?direction=received", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Transfers []history.Transfer `json:"transfers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Transfers) != 2 {
		t.Fatalf("expected 2 received transfers, got %d", len(out.Transfers))
	}

	w = get(t, srv, "/transfers?limit=1", "")
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out.Transfers) != 1 {
		t.Fatalf("limit not applied: n=%d err=%v", len(out.Transfers), err)
	}

	if w := get(t, srv, "/transfers?direction=sideways", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad direction status=%d", w.Code)
	}
	if w := get(t, srv, "/transfers?limit=-3", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", w.Code)
	}
}

func TestDownload(t *testing.T) {
	testlog.Start(t)
	srv, _, received := newTestServer(t, "")
	if err := os.WriteFile(filepath.Join(received, "photo.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := get(t, srv, "/download/photo.jpg", "")
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Fatalf("download status=%d body=%q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "photo.jpg") {
		t.Fatalf("missing attachment header: %q", cd)
	}

	if w := get(t, srv, "/download/missing.txt", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", w.Code)
	}
	if w := get(t, srv, "/download/.tmp", ""); w.Code != http.StatusNotFound {
		t.Fatalf("temp dir status=%d", w.Code)
	}
	if err := os.WriteFile(filepath.Join(received, ".env"), []byte("K=V"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w := get(t, srv, "/download/.env", ""); w.Code != http.StatusOK || w.Body.String() != "K=V" {
		t.Fatalf("dot file status=%d body=%q", w.Code, w.Body.String())
	}
	if w := get(t, srv, "/download/..%2Fhistory.db", ""); w.Code == http.StatusOK {
		t.Fatalf("path traversal served a file")
	}
}

func TestTokenGuard(t *testing.T) {
	testlog.Start(t)
	srv, _, _ := newTestServer(t, "s3cret")

	if w := get(t, srv, "/transfers", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status=%d", w.Code)
	}
	if w := get(t, srv, "/transfers", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", w.Code)
	}
	if w := get(t, srv, "/transfers", "s3cret"); w.Code != http.StatusOK {
		t.Fatalf("good token status=%d", w.Code)
	}
	if w := get(t, srv, "/ping", ""); w.Code != http.StatusOK {
		t.Fatalf("ping must stay open, status=%d", w.Code)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	s := &Server{cfg: Config{ReceivedDir: "/srv/in"}}
	for _, name := range []string{"", "..", "../etc/passwd", "a/b", `a\b`, "."} {
		if _, err := s.resolve(name); err == nil {
			t.Fatalf("resolve(%q) accepted", name)
		}
	}
	for _, name := range []string{"ok.txt", ".env"} {
		if got, err := s.resolve(name); err != nil || got != filepath.Join("/srv/in", name) {
			t.Fatalf("resolve %s = %q, %v", name, got, err)
		}
	}
}
