// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// ItemState represents the lifecycle state of a work item.
type ItemState string

// Item state values persisted in the work queue backend.
const (
	ItemStatePending   ItemState = "PENDING"
	ItemStateClaimed   ItemState = "CLAIMED"
	ItemStateSucceeded ItemState = "SUCCEEDED"
	ItemStateFailed    ItemState = "FAILED"
)

// CompletionState marks whether a succeeded item is usable downstream.
type CompletionState string

// Completion state values.
const (
	CompletionUsable    CompletionState = "USABLE"
	CompletionNotUsable CompletionState = "NOT_USABLE"
)

// WorkItem is one pending image URL within a survey. Items are never
// deleted, only state-transitioned by the queue.
type WorkItem struct {
	ID       string    `json:"id"`
	SurveyID string    `json:"survey_id"`
	URL      string    `json:"url"`
	State    ItemState `json:"state"`
}

// Result is the per-attempt record produced for every processed item. It is
// immutable once written; every funnel stage is present even when unreached.
type Result struct {
	ItemID    string    `json:"item_id"`
	SurveyID  string    `json:"survey_id"`
	URL       string    `json:"url"`
	Host      string    `json:"host"`
	Scheme    string    `json:"scheme"`
	Strategy  string    `json:"strategy"`
	StartedAt time.Time `json:"started_at"`

	// Network stack validation.
	URLValid       bool    `json:"url_valid"`
	DNSResolved    bool    `json:"dns_resolved"`
	DNSTimeMs      float64 `json:"dns_time_ms"`
	TCPConnected   bool    `json:"tcp_connected"`
	TLSHandshakeOK bool    `json:"tls_handshake_ok"`
	HTTPCompleted  bool    `json:"http_completed"`

	// HTTP response details.
	StatusCode            int    `json:"status_code"`
	HeaderCount           int    `json:"header_count"`
	ContentType           string `json:"content_type"`
	ContentEncoding       string `json:"content_encoding"`
	Server                string `json:"server"`
	CacheControl          string `json:"cache_control"`
	LastModified          string `json:"last_modified"`
	ETag                  string `json:"etag"`
	ContentLengthReported int64  `json:"content_length_reported"`
	ContentLengthActual   int64  `json:"content_length_actual"`

	// Timing.
	TotalTimeMs       float64 `json:"total_time_ms"`
	TimeToFirstByteMs float64 `json:"time_to_first_byte_ms"`

	// Content validation.
	ContentTypeValid bool `json:"content_type_valid"`
	PayloadPresent   bool `json:"payload_present"`
	AppearsErrorPage bool `json:"appears_error_page"`

	// Image validation.
	ImageFormatValid bool   `json:"image_format_valid"`
	ImageFormat      string `json:"image_format"`
	ImageWidth       int    `json:"image_width"`
	ImageHeight      int    `json:"image_height"`

	// Attempt accounting.
	TotalAttempts     int    `json:"total_attempts"`
	SuccessfulAttempt int    `json:"successful_attempt"`
	UserAgent         string `json:"user_agent,omitempty"`

	// Final determination.
	FinalSuccess bool         `json:"final_success"`
	FailureStage FailureStage `json:"failure_stage,omitempty"`
	ErrorType    string       `json:"error_type,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`

	// Set when the duplicate detector linked this item to a canonical one.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// ImageAsset holds the bytes produced for a successfully fetched image.
// Owned by the item that produced it unless superseded by duplicate linkage.
type ImageAsset struct {
	FullImage      []byte `json:"-"`
	Thumbnail      []byte `json:"-"`
	PerceptualHash string `json:"perceptual_hash"`
	FullURI        string `json:"full_uri,omitempty"`
	ThumbnailURI   string `json:"thumbnail_uri,omitempty"`
}

// FetchOutcome is the success side of a strategy fetch: the request
// completed and produced a response, though not necessarily a 200.
type FetchOutcome struct {
	StatusCode        int
	Headers           http.Header
	Body              []byte
	TotalAttempts     int
	SuccessfulAttempt int
	UserAgent         string
	Duration          time.Duration
	TimeToFirstByte   time.Duration
}

// FetchError is a typed fetch failure carrying the funnel stage it maps to.
// Retry decisions are made on these values, never on recovered panics.
type FetchError struct {
	Stage    FailureStage
	Type     string
	Message  string
	Attempts int
	Duration time.Duration
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return e.Type + ": " + e.Message
}

// Attempt bundles everything the funnel needs to classify one processing
// pass: the pre-network gates plus the strategy's outcome or failure.
type Attempt struct {
	Item      WorkItem
	Strategy  string
	StartedAt time.Time

	Scheme   string
	Host     string
	URLValid bool

	DNSResolved bool
	DNSTime     time.Duration
	DNSErr      string

	Outcome  *FetchOutcome
	FetchErr *FetchError
}
