package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceCall/internal/adapters/signal"
	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/apptest"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/core/mocks"
	"github.com/dkeye/VoiceCall/internal/domain"
)

type testServer struct {
	router *gin.Engine
	engine *apptest.Engine
	orch   *orch.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := gomock.NewController(t)

	auth := mocks.NewMockAuthenticator(ctrl)
	auth.EXPECT().Verify(gomock.Any(), "good").Return(domain.Identity{UserID: "u1"}, nil).AnyTimes()
	auth.EXPECT().Verify(gomock.Any(), gomock.Not("good")).Return(domain.Identity{}, domain.ErrUnauthorized).AnyTimes()

	engine := apptest.NewEngine()
	pool := app.NewWorkerPool(engine, 1, time.Hour)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomRegistry(pool, app.RoomRegistryConfig{Codecs: apptest.Codecs(), EngineTimeout: time.Second}, nil),
		Policy:   app.SimplePolicy{},
		Auth:     auth,
	}
	cfg := &config.Config{Mode: "test", StaticPath: t.TempDir() + "/missing"}
	r := SetupRouter(context.Background(), cfg, Deps{
		Orch:   o,
		Signal: signal.NewSignalWSController(o, nil, signal.Options{}),
		Pool:   pool,
		Turn:   &app.TurnIssuer{Secret: "turn", Host: "turn.example.org"},
	})
	return &testServer{router: r, engine: engine, orch: o}
}

func (s *testServer) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestProbes(t *testing.T) {
	s := newTestServer(t)

	if w := s.get("/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := s.get("/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}

	s.engine.Workers()[0].Kill()
	deadline := time.Now().Add(2 * time.Second)
	for s.get("/readyz", "").Code != http.StatusServiceUnavailable {
		if time.Now().After(deadline) {
			t.Fatal("readyz still ok with every worker dead")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthenticatedRoutes(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.orch.Rooms.GetOrCreateRoom(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path  string
		token string
		code  int
	}{
		{"/api/rooms", "", http.StatusUnauthorized},
		{"/api/rooms", "bad", http.StatusUnauthorized},
		{"/api/rooms", "good", http.StatusOK},
		{"/api/turn-credentials", "", http.StatusUnauthorized},
		{"/api/turn-credentials", "good", http.StatusOK},
	}
	for _, tt := range tests {
		if w := s.get(tt.path, tt.token); w.Code != tt.code {
			t.Fatalf("GET %s with %q = %d, want %d", tt.path, tt.token, w.Code, tt.code)
		}
	}

	var rooms struct {
		Rooms []domain.RoomInfo `json:"rooms"`
	}
	if err := json.Unmarshal(s.get("/api/rooms", "good").Body.Bytes(), &rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].ID != "r1" {
		t.Fatalf("rooms = %+v", rooms.Rooms)
	}

	var creds app.TurnCredentials
	if err := json.Unmarshal(s.get("/api/turn-credentials", "good").Body.Bytes(), &creds); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(creds.Username, ":u1") || len(creds.URLs) == 0 {
		t.Fatalf("credentials = %+v", creds)
	}
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t)
	w := s.get("/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "voice_") {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestSignalRequiresToken(t *testing.T) {
	s := newTestServer(t)
	if w := s.get("/api/ws/signal", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("signal without token = %d", w.Code)
	}
}
