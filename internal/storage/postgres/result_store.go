package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStore writes one immutable row per processed item. Every funnel
// column is present on every row, reached or not, so downstream analysis
// never has to guess which stage a NULL means.
type ResultStore struct {
	pool  querier
	table string
}

// NewResultStore wraps an existing pool. An empty table defaults to
// "results".
func NewResultStore(pool querier, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// StoreResult inserts a result row.
func (s *ResultStore) StoreResult(ctx context.Context, result pipeline.Result) error {
	if result.ItemID == "" {
		return fmt.Errorf("result item id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	item_id,
	survey_id,
	url,
	host,
	scheme,
	strategy,
	started_at,
	url_valid,
	dns_resolved,
	dns_time_ms,
	tcp_connected,
	tls_handshake_ok,
	http_completed,
	status_code,
	header_count,
	content_type,
	content_encoding,
	server,
	cache_control,
	last_modified,
	etag,
	content_length_reported,
	content_length_actual,
	total_time_ms,
	time_to_first_byte_ms,
	content_type_valid,
	payload_present,
	appears_error_page,
	image_format_valid,
	image_format,
	image_width,
	image_height,
	total_attempts,
	successful_attempt,
	user_agent,
	final_success,
	failure_stage,
	error_type,
	error_message,
	duplicate_of
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
	$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
	$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,
	$31,$32,$33,$34,$35,$36,$37,$38,$39,NULLIF($40, '')
)`, s.table)

	args := []any{
		result.ItemID,
		result.SurveyID,
		result.URL,
		result.Host,
		result.Scheme,
		result.Strategy,
		result.StartedAt,
		result.URLValid,
		result.DNSResolved,
		result.DNSTimeMs,
		result.TCPConnected,
		result.TLSHandshakeOK,
		result.HTTPCompleted,
		result.StatusCode,
		result.HeaderCount,
		result.ContentType,
		result.ContentEncoding,
		result.Server,
		result.CacheControl,
		result.LastModified,
		result.ETag,
		result.ContentLengthReported,
		result.ContentLengthActual,
		result.TotalTimeMs,
		result.TimeToFirstByteMs,
		result.ContentTypeValid,
		result.PayloadPresent,
		result.AppearsErrorPage,
		result.ImageFormatValid,
		result.ImageFormat,
		result.ImageWidth,
		result.ImageHeight,
		result.TotalAttempts,
		result.SuccessfulAttempt,
		result.UserAgent,
		result.FinalSuccess,
		string(result.FailureStage),
		result.ErrorType,
		result.ErrorMessage,
		result.DuplicateOf,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
