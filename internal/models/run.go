package models

import "time"

// Run is one execution of the pipeline against a capture source.
type Run struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Model     string     `json:"model"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
