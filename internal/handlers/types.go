package handlers

// RateLimitHeaders are sent with every decision, allowed or denied.
type RateLimitHeaders struct {
	Limit     string `doc:"Requests allowed per window"          header:"X-RateLimit-Limit"`
	Remaining string `doc:"Requests left in the current window"  header:"X-RateLimit-Remaining"`
	Reset     string `doc:"Seconds until the current window ends" header:"X-RateLimit-Reset"`
}

// CheckRequest consumes one unit of quota for an identifier.
type CheckRequest struct {
	Identifier string `doc:"User, IP, API key or endpoint to limit" example:"user-42" maxLength:"256" minLength:"1" path:"identifier"`
}

// CheckResponse is returned when the request is allowed.
type CheckResponse struct {
	RateLimitHeaders

	Body struct {
		Allowed   bool   `doc:"Whether the request may proceed" json:"allowed"`
		Limit     uint64 `doc:"Requests allowed per window"     json:"limit"`
		Remaining uint64 `doc:"Requests left in the window"     json:"remaining"`
		ResetIn   int64  `doc:"Seconds until reset, -1 if none" json:"resetIn"`
	}
}

// StatusRequest reads an identifier's window without consuming quota.
type StatusRequest struct {
	Identifier string `doc:"User, IP, API key or endpoint to inspect" example:"user-42" maxLength:"256" minLength:"1" path:"identifier"`
}

// StatusResponse reports the current window state.
type StatusResponse struct {
	Body struct {
		Identifier string `json:"identifier"`
		Limit      uint64 `json:"limit"`
		Remaining  uint64 `json:"remaining"`
		ResetIn    int64  `doc:"Seconds until reset, -1 if no active window" json:"resetIn"`
	}
}
