package llm

import "errors"

// Sentinel errors for upstream failure classification. The pipeline and the
// HTTP layer rely on errors.Is against these; nothing in between may
// re-wrap in a way that loses the distinction.
var (
	// ErrRateLimited indicates the gateway returned 429. Recoverable:
	// the caller should back off and retry later. Never retried here.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrQuotaExhausted indicates the gateway returned 402 (credits or
	// billing exhausted). Not recoverable without operator intervention.
	ErrQuotaExhausted = errors.New("upstream quota exhausted")

	// ErrUpstream covers every other non-2xx status, transport failure,
	// or malformed response payload. Terminal for the current request.
	ErrUpstream = errors.New("upstream request failed")
)
