// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ns uint64) ratelimit.Clock {
	return func() uint64 { return ns }
}

// setupEntityTestRouter creates a test router with entity handler
func setupEntityTestRouter(dp *MockDataPlane) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewEntityHandler(dp, fixedClock(10*ratelimit.NsecPerSec))

	router.GET("/api/v1/entities/:direction", handler.ListEntities)
	router.GET("/api/v1/entities/:direction/:id", handler.GetEntity)

	return router
}

func serve(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestListEntities_Success tests listing the rate state of a direction
func TestListEntities_Success(t *testing.T) {
	w := serve(setupEntityTestRouter(NewMockDataPlane()), "/api/v1/entities/egress")

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.EntityListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, "egress", response.Direction)
	assert.Equal(t, 2, response.Count)
	require.Len(t, response.Entities, 2)

	assert.Equal(t, uint64(7), response.Entities[0].EntityID)
	assert.InDelta(t, 2.0, response.Entities[0].BacklogSeconds, 1e-9)

	// schedule in the past has no backlog
	assert.Equal(t, uint64(9), response.Entities[1].EntityID)
	assert.Equal(t, 0.0, response.Entities[1].BacklogSeconds)
}

// TestListEntities_Empty tests that an empty store yields an empty list
func TestListEntities_Empty(t *testing.T) {
	dp := NewMockDataPlane()
	dp.stores[ratelimit.Ingress] = &fakeSnapshotter{}

	w := serve(setupEntityTestRouter(dp), "/api/v1/entities/ingress")

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.EntityListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 0, response.Count)
	assert.NotNil(t, response.Entities)
}

// TestGetEntity tests single entity lookups
func TestGetEntity(t *testing.T) {
	dp := NewMockDataPlane()
	dp.stores[ratelimit.Ingress] = &fakeSnapshotter{err: errMapRead}
	router := setupEntityTestRouter(dp)

	tests := []struct {
		name string
		path string
		code int
		err  string
	}{
		{"found", "/api/v1/entities/egress/7", http.StatusOK, ""},
		{"unknown entity", "/api/v1/entities/egress/8", http.StatusNotFound, "not_found"},
		{"bad id", "/api/v1/entities/egress/abc", http.StatusBadRequest, "invalid_id"},
		{"negative id", "/api/v1/entities/egress/-1", http.StatusBadRequest, "invalid_id"},
		{"bad direction", "/api/v1/entities/up/7", http.StatusBadRequest, "invalid_direction"},
		{"read failure", "/api/v1/entities/ingress/7", http.StatusInternalServerError, "state_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.path)
			assert.Equal(t, tt.code, w.Code)

			if tt.err == "" {
				var response models.EntityResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, uint64(7), response.EntityID)
				assert.Equal(t, 10*ratelimit.NsecPerSec, response.LastSeen)
				return
			}

			var response models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.err, response.Error)
		})
	}
}

// TestGetEntity_SingleLookup tests that a single entity is read without listing the store
func TestGetEntity_SingleLookup(t *testing.T) {
	dp := NewMockDataPlane()
	router := setupEntityTestRouter(dp)

	w := serve(router, "/api/v1/entities/egress/9")
	require.Equal(t, http.StatusOK, w.Code)

	var response models.EntityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, uint64(9), response.EntityID)
	assert.Zero(t, response.BacklogSeconds)

	assert.Zero(t, dp.stores[ratelimit.Egress].(*fakeSnapshotter).listed)
}

// TestListEntities_NoStore tests a direction without a state store
func TestListEntities_NoStore(t *testing.T) {
	w := serve(setupEntityTestRouter(NewMockDataPlane()), "/api/v1/entities/ingress")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
