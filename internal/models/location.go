package models

// LocationSample is a single position report from a tracker. It is
// transient: validated, persisted and broadcast, never retained by the
// realtime core.
type LocationSample struct {
	BusID     string  `json:"busId"`
	SessionID string  `json:"sessionId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}
