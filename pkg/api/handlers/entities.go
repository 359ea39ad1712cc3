package handlers

import (
	"net/http"
	"strconv"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EntityHandler exposes the per-entity rate state
type EntityHandler struct {
	dataPlane dataplane.DataPlaneInterface
	now       ratelimit.Clock
}

// NewEntityHandler creates a new entity handler. now must use the same
// clock as the data plane; nil selects the monotonic clock.
func NewEntityHandler(dp dataplane.DataPlaneInterface, now ratelimit.Clock) *EntityHandler {
	if now == nil {
		now = ratelimit.MonotonicNow
	}
	return &EntityHandler{
		dataPlane: dp,
		now:       now,
	}
}

// ListEntities handles GET /api/v1/entities/:direction
func (h *EntityHandler) ListEntities(c *gin.Context) {
	dir, store, ok := h.store(c)
	if !ok {
		return
	}

	entries, err := store.Entries()
	if err != nil {
		h.stateError(c, dir, err)
		return
	}

	now := h.now()
	response := models.EntityListResponse{
		Direction: dir.String(),
		Entities:  make([]models.EntityResponse, 0, len(entries)),
		Count:     len(entries),
	}
	for _, e := range entries {
		response.Entities = append(response.Entities, toEntityResponse(dir, e, now))
	}

	c.JSON(http.StatusOK, response)
}

// GetEntity handles GET /api/v1/entities/:direction/:id
func (h *EntityHandler) GetEntity(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidID,
			"Entity ID must be an unsigned integer", err)
		return
	}

	dir, store, ok := h.store(c)
	if !ok {
		return
	}

	st, found, err := store.Get(id)
	if err != nil {
		h.stateError(c, dir, err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "Entity has no rate state", nil)
		return
	}

	c.JSON(http.StatusOK, toEntityResponse(dir, ratelimit.Entry{EntityID: id, State: st}, h.now()))
}

func (h *EntityHandler) store(c *gin.Context) (ratelimit.Direction, ratelimit.Snapshotter, bool) {
	dir, err := ratelimit.ParseDirection(c.Param("direction"))
	if err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidDirection,
			"Direction must be egress or ingress", err)
		return 0, nil, false
	}

	store, ok := h.dataPlane.StateStore(dir)
	if !ok {
		respondError(c, http.StatusNotFound, models.ErrCodeNotAttached,
			"No rate state for "+dir.String(), nil)
		return 0, nil, false
	}

	return dir, store, true
}

func (h *EntityHandler) stateError(c *gin.Context, dir ratelimit.Direction, err error) {
	log.Errorf("Failed to read %s rate state: %v", dir, err)
	respondError(c, http.StatusInternalServerError, models.ErrCodeStateError, "Failed to read rate state", err)
}

func toEntityResponse(dir ratelimit.Direction, e ratelimit.Entry, now uint64) models.EntityResponse {
	var backlog float64
	if e.State.ScheduledDeparture > now {
		backlog = float64(e.State.ScheduledDeparture-now) / float64(ratelimit.NsecPerSec)
	}

	return models.EntityResponse{
		EntityID:           e.EntityID,
		Direction:          dir.String(),
		ScheduledDeparture: e.State.ScheduledDeparture,
		LastSeen:           e.State.LastSeen,
		BacklogSeconds:     backlog,
	}
}
