package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reqshield/internal/models"
	"reqshield/internal/version"
)

func TestHealthCheck(t *testing.T) {
	h := NewHandlers(newTestEngine(t), WithVersion(version.Info{Version: "1.4.0"}))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Equal(t, "1.4.0", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthCheck_StoreReachable(t *testing.T) {
	store := &MockSnapshotStore{}
	store.On("Ping", mock.Anything).Return(nil)
	h := NewHandlers(newTestEngine(t), WithSnapshotStore(store))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestHealthCheck_StoreUnreachable(t *testing.T) {
	store := &MockSnapshotStore{}
	store.On("Ping", mock.Anything).Return(errors.New("dial tcp: connection refused"))
	h := NewHandlers(newTestEngine(t), WithSnapshotStore(store))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StatusUnhealthy, resp.Status)
	store.AssertExpectations(t)
}

func TestWriteErrorResponse(t *testing.T) {
	h := NewHandlers(newTestEngine(t))

	rec := httptest.NewRecorder()
	h.writeErrorResponse(rec, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "key is required")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "key is required", resp.Message)
	assert.Equal(t, models.ErrorCodeInvalidRequest, resp.Code)
}
