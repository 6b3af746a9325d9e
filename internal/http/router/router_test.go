package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"permit_portal_backend/internal/events"
	apphttp "permit_portal_backend/internal/http"
	"permit_portal_backend/internal/ingest"
	"permit_portal_backend/internal/inspections"
	"permit_portal_backend/internal/stages"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/storage"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	actor  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Env:            "test",
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    ":memory:",
		CORSAllowAll:   true,
	}

	store, err := storage.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	log := logger.Nop()
	bus := events.NewInMemoryBus(log)
	val := validator.New()

	stagesModule, err := stages.NewModule(ctx, store.Stages, cfg, bus, val, log)
	require.NoError(t, err)

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   store.Health,
		EventBus: bus,
		Modules: []apphttp.Module{
			stagesModule,
			inspections.NewModule(store.Inspections, stagesModule.Service(), bus, val, log),
			ingest.NewModule(ingest.NewDispatcher(bus, val, nil, log)),
		},
	}
	t.Cleanup(bus.Wait)
	return &testServer{engine: New(app), actor: uuid.NewString()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Actor-ID", s.actor)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestApplicationLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/applications", map[string]any{"reference": "BP-2024-001"}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	app := decode[domain.Application](t, w)
	base := "/api/v1/applications/" + app.ID.String()

	w = s.do(t, http.MethodGet, base+"/current-stage", nil, false)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, base+"/submit", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, base+"/current-stage", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[domain.Stage](t, w)
	require.Equal(t, 1, current.OrderNumber)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/stages/%d/requirements", current.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	reqs := decode[[]domain.Requirement](t, w)
	require.NotEmpty(t, reqs)

	var last map[string]any
	for _, r := range reqs {
		path := fmt.Sprintf("/api/v1/admin/applications/%s/requirements/%d", app.ID, r.ID)
		w = s.do(t, http.MethodPut, path, map[string]any{"status": "completed"}, true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		last = decode[map[string]any](t, w)
	}
	steps, ok := last["steps"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, steps)

	w = s.do(t, http.MethodGet, base+"/current-stage", nil, false)
	current = decode[domain.Stage](t, w)
	require.Equal(t, 2, current.OrderNumber)

	w = s.do(t, http.MethodGet, base+"/transitions", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]domain.Transition](t, w)
	require.Len(t, history, 1)
	require.Equal(t, domain.TriggerAdmin, history[0].Trigger)
}

func TestAdminRoutesRequireActor(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/admin/applications/"+uuid.NewString()+"/advance", nil, false)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/applications/"+uuid.NewString()+"/advance", nil, true)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidIdentifiers(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/applications/not-a-uuid", nil, false)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/stages/0/requirements", nil, false)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/applications/"+uuid.NewString()+"/requirements/1", map[string]any{"status": "approved"}, true)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
