package models

// EntityResponse represents the rate state of one entity
type EntityResponse struct {
	EntityID           uint64 `json:"entity_id"`
	Direction          string `json:"direction"`
	ScheduledDeparture uint64 `json:"scheduled_departure_ns"`
	LastSeen           uint64 `json:"last_seen_ns"`
	// BacklogSeconds is how far the schedule runs ahead of now
	BacklogSeconds float64 `json:"backlog_seconds"`
}

// EntityListResponse represents the tracked entities of one direction
type EntityListResponse struct {
	Direction string           `json:"direction"`
	Entities  []EntityResponse `json:"entities"`
	Count     int              `json:"count"`
}
