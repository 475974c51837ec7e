package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	SessionActive bool   `json:"session_active"`
}

// BestActionResponse is the response body for GET /api/v1/qtable/best.
type BestActionResponse struct {
	State   string             `json:"state"`
	Action  string             `json:"action"`
	Value   float64            `json:"value"`
	Actions map[string]float64 `json:"actions"`
}

// RewardRequest is the request body for POST /api/v1/reward.
type RewardRequest struct {
	Metrics map[string]float64 `json:"metrics"`
}
