package types

import "time"

// InvalidImageMessage is the error text sent when a payload does not decode as an image.
const InvalidImageMessage = "IMAGEN INVALIDA"

// Outcome classifies how a single request ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeInvalidImage Outcome = "invalid_image"
	OutcomeBackendError Outcome = "backend_error"
)

// ErrorResult is the JSON object returned to clients when a request fails
type ErrorResult struct {
	Error string `json:"error"`
}

// RequestRecord describes one completed request, for the audit store.
type RequestRecord struct {
	ID           string
	SessionID    string
	Backend      string
	PayloadBytes int
	Outcome      Outcome
	Error        string
	Duration     time.Duration
	CreatedAt    time.Time
}
