package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reqshield/internal/models"
	"reqshield/internal/ratelimit"
)

const testAdminToken = "test-admin-token"

// MockSnapshotStore is a mock implementation of storage.SnapshotStore
type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Load(ctx context.Context) (*models.DefenseSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*models.DefenseSnapshot)
	return snap, args.Error(1)
}

func (m *MockSnapshotStore) Save(ctx context.Context, snap *models.DefenseSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockSnapshotStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestEngine(t *testing.T) *ratelimit.Engine {
	t.Helper()
	p := ratelimit.DefaultPolicy()
	p.SweepInterval = 0
	engine, err := ratelimit.NewEngine(p)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func newTestConfig() *models.Config {
	cfg := models.NewDefaultConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Token = testAdminToken
	return cfg
}

func serveWithVars(h http.HandlerFunc, vars map[string]string, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req = mux.SetURLVars(req, vars)
	h(rec, req)
	return rec
}
