package pipeline

// FailureStage identifies the first funnel stage an attempt failed at.
// Stages are mutually exclusive; exactly one is assigned per failed attempt.
type FailureStage string

// Failure taxonomy, ordered by funnel position.
const (
	StageInvalidURL    FailureStage = "invalid_url"
	StageDNS           FailureStage = "dns"
	StageTCPConnection FailureStage = "tcp_connection"
	StageSSLHandshake  FailureStage = "ssl_handshake"
	StageHTTPTimeout   FailureStage = "http_timeout"
	StageHTTPRequest   FailureStage = "http_request"
	StageHTTPStatus    FailureStage = "http_status"
	StageImageFormat   FailureStage = "image_format"
)

// Rescuable reports whether a better download strategy could plausibly
// rescue a failure at this stage. Bad URLs and dead domains cannot be
// fixed client-side.
func (s FailureStage) Rescuable() bool {
	switch s {
	case StageInvalidURL, StageDNS:
		return false
	default:
		return s != ""
	}
}

// Retryable reports whether the stage is a network-layer failure that a
// retry loop may attempt again. Definitive HTTP statuses and content
// failures are terminal.
func (s FailureStage) Retryable() bool {
	switch s {
	case StageTCPConnection, StageSSLHandshake, StageHTTPTimeout, StageHTTPRequest:
		return true
	default:
		return false
	}
}
