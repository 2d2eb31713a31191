package types

// Ack is the minimal success body. Handlers embed it in richer payloads.
type Ack struct {
	OK bool `json:"ok"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope always reports ok=false alongside the typed error.
type ErrorEnvelope struct {
	OK    bool     `json:"ok"`
	Error APIError `json:"error"`
}
