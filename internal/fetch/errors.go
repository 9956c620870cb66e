package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

const errorMessageLimit = 200

// classifyFetchError maps a native transport error onto the failure
// taxonomy: timeouts, refused/reset connections and TLS failures each get
// their own stage; anything else during the request is http_request.
func classifyFetchError(err error, attempts int, elapsed time.Duration) *pipeline.FetchError {
	fe := &pipeline.FetchError{
		Stage:    pipeline.StageHTTPRequest,
		Type:     "request_error",
		Message:  truncate(err.Error()),
		Attempts: attempts,
		Duration: elapsed,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		fe.Stage = pipeline.StageHTTPTimeout
		fe.Type = "timeout"
	case isTLSError(err):
		fe.Stage = pipeline.StageSSLHandshake
		fe.Type = "ssl_error"
	case isConnectionError(err):
		fe.Stage = pipeline.StageTCPConnection
		fe.Type = "connection_error"
	}
	return fe
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidCert)
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

func truncate(s string) string {
	if len(s) > errorMessageLimit {
		return s[:errorMessageLimit]
	}
	return s
}
