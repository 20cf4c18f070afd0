package coachdto

const (
	CodeInvalidMove       = "invalid_move"
	CodeInvalidConfig     = "invalid_config"
	CodeEngineRejected    = "engine_rejected"
	CodeEngineTimeout     = "engine_timeout"
	CodeEngineUnavailable = "engine_unavailable"
	CodeSessionNotFound   = "session_not_found"
	CodeInternal          = "internal"
)

// DomainError is what the service surfaces to transports. Retryable errors
// are worth repeating once the engine is back.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Stage     string `json:"stage,omitempty"`
	Cause     error  `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "coach service error"
}

func (e *DomainError) Unwrap() error { return e.Cause }
