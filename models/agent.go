package models

// AgentLocation is a geo-index hit: an online delivery agent and its
// last-known coordinates.
type AgentLocation struct {
	AgentID   string  `json:"agentId"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}
