package api

// AttemptStatus is the wire form of a client's daily standing.
// ResetTime is epoch milliseconds; -1/-1 remaining/total means unlimited.
type AttemptStatus struct {
	Remaining    int   `json:"remaining"`
	Total        int   `json:"total"`
	ResetTime    int64 `json:"resetTime"`
	HasCustomKey bool  `json:"hasCustomKey"`
}

// StatusResponse wraps AttemptStatus in the standard success envelope.
type StatusResponse struct {
	Success bool          `json:"success"`
	Data    AttemptStatus `json:"data"`
}

// CheckResponse is the wire form of a check-and-consume decision.
type CheckResponse struct {
	Success   bool   `json:"success"`
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	ResetTime int64  `json:"resetTime,omitempty"`
	Message   string `json:"message,omitempty"`
}

// GenerateRequest carries the topic to generate an article for.
type GenerateRequest struct {
	Topic string `json:"topic"`
}

// GenerateResponse is the wire form of a generation outcome.
type GenerateResponse struct {
	Success         bool   `json:"success"`
	Content         string `json:"content,omitempty"`
	Error           string `json:"error,omitempty"`
	NeedsCredential bool   `json:"needsCredential,omitempty"`
	TrialMode       bool   `json:"trialMode"`
}

// CredentialRequest carries a caller-supplied credential.
type CredentialRequest struct {
	Credential string `json:"credential"`
}

// TrialResponse is the wire form of the free-attempt ledger standing.
type TrialResponse struct {
	Success   bool `json:"success"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	TrialMode bool `json:"isTrialMode"`
}

// StatsResponse is the wire form of aggregated usage statistics.
type StatsResponse struct {
	Success       bool    `json:"success"`
	TotalAttempts int     `json:"totalAttempts"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	RateLimitHits int     `json:"rateLimitHits"`
	SuccessRate   float64 `json:"successRate"`
}

// ErrorResponse is the standard failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
