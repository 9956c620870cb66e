// Package funnel classifies fetch attempts through the ordered validation
// stages. It is pure logic: no I/O happens here.
package funnel

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"

	// Register the supported image formats with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// errorPageMarkers are scanned (lowercased) in the first KB of the payload
// to catch HTML error pages served with a 200.
var errorPageMarkers = []string{
	"404 not found",
	"access denied",
	"forbidden",
	"error",
	"not available",
	"<html",
	"<!doctype",
}

// imageContentTypes are substrings that make a Content-Type header look
// like an image.
var imageContentTypes = []string{"image/", "jpeg", "png", "gif", "webp"}

const errorPageScanBytes = 1000

// Evaluate derives the stage-by-stage booleans and the terminal success
// flag for one attempt. The stage order is strict and short-circuits on the
// first failure; unreached stages stay false rather than being omitted.
// The decoded image is returned only when every stage passed.
func Evaluate(a pipeline.Attempt) (pipeline.Result, image.Image) {
	res := pipeline.Result{
		ItemID:    a.Item.ID,
		SurveyID:  a.Item.SurveyID,
		URL:       a.Item.URL,
		Host:      a.Host,
		Scheme:    a.Scheme,
		Strategy:  a.Strategy,
		StartedAt: a.StartedAt,
	}

	// Stage: URL scheme. Rejected URLs never reach the network.
	if !a.URLValid {
		res.FailureStage = pipeline.StageInvalidURL
		res.ErrorType = "unfetchable_scheme"
		res.ErrorMessage = fmt.Sprintf("URL scheme %q cannot be fetched", a.Scheme)
		return res, nil
	}
	res.URLValid = true

	// Stage: DNS resolution.
	res.DNSTimeMs = durationMs(a.DNSTime)
	if !a.DNSResolved {
		res.FailureStage = pipeline.StageDNS
		res.ErrorType = "dns_resolution_failed"
		res.ErrorMessage = a.DNSErr
		return res, nil
	}
	res.DNSResolved = true

	// Stages TCP through HTTP completion, from the strategy's report.
	if a.FetchErr != nil {
		return evaluateFetchError(res, a.FetchErr), nil
	}
	if a.Outcome == nil {
		res.FailureStage = pipeline.StageHTTPRequest
		res.ErrorType = "missing_outcome"
		res.ErrorMessage = "strategy returned neither outcome nor failure"
		return res, nil
	}
	return evaluateOutcome(res, a)
}

func evaluateFetchError(res pipeline.Result, fe *pipeline.FetchError) pipeline.Result {
	// An SSL failure implies the TCP connect underneath it succeeded.
	if fe.Stage == pipeline.StageSSLHandshake {
		res.TCPConnected = true
	}
	res.FailureStage = fe.Stage
	res.ErrorType = fe.Type
	res.ErrorMessage = fe.Message
	res.TotalAttempts = fe.Attempts
	res.TotalTimeMs = durationMs(fe.Duration)
	return res
}

func evaluateOutcome(res pipeline.Result, a pipeline.Attempt) (pipeline.Result, image.Image) {
	out := a.Outcome
	res.TCPConnected = true
	res.TLSHandshakeOK = a.Scheme == "https"
	res.HTTPCompleted = true
	res.TotalAttempts = out.TotalAttempts
	res.SuccessfulAttempt = out.SuccessfulAttempt
	res.UserAgent = out.UserAgent
	res.TotalTimeMs = durationMs(out.Duration)
	res.TimeToFirstByteMs = durationMs(out.TimeToFirstByte)

	res.StatusCode = out.StatusCode
	res.HeaderCount = len(out.Headers)
	res.ContentType = out.Headers.Get("Content-Type")
	res.ContentEncoding = out.Headers.Get("Content-Encoding")
	res.Server = out.Headers.Get("Server")
	res.CacheControl = out.Headers.Get("Cache-Control")
	res.LastModified = out.Headers.Get("Last-Modified")
	res.ETag = out.Headers.Get("Etag")
	res.ContentLengthReported = reportedLength(out.Headers.Get("Content-Length"))
	res.ContentLengthActual = int64(len(out.Body))

	// Stage: HTTP status.
	if out.StatusCode != 200 {
		res.FailureStage = pipeline.StageHTTPStatus
		res.ErrorType = fmt.Sprintf("http_%d", out.StatusCode)
		res.ErrorMessage = fmt.Sprintf("HTTP %d response", out.StatusCode)
		return res, nil
	}

	// Stage: content type looks like an image.
	ct := strings.ToLower(res.ContentType)
	for _, t := range imageContentTypes {
		if strings.Contains(ct, t) {
			res.ContentTypeValid = true
			break
		}
	}
	if !res.ContentTypeValid {
		res.FailureStage = pipeline.StageImageFormat
		res.ErrorType = "invalid_content_type"
		res.ErrorMessage = fmt.Sprintf("content type %q is not an image", res.ContentType)
		return res, nil
	}

	// Stage: non-empty payload.
	if len(out.Body) == 0 {
		res.FailureStage = pipeline.StageImageFormat
		res.ErrorType = "empty_payload"
		res.ErrorMessage = "response body was empty"
		return res, nil
	}
	res.PayloadPresent = true

	// Stage: disguised error page.
	if looksLikeErrorPage(out.Body) {
		res.AppearsErrorPage = true
		res.FailureStage = pipeline.StageImageFormat
		res.ErrorType = "error_page"
		res.ErrorMessage = "payload appears to be an error page"
		return res, nil
	}

	// Stage: payload decodes as a supported image format.
	img, format, err := image.Decode(bytes.NewReader(out.Body))
	if err != nil {
		res.FailureStage = pipeline.StageImageFormat
		res.ErrorType = "invalid_image_format"
		res.ErrorMessage = "content is not a valid image"
		return res, nil
	}
	res.ImageFormatValid = true
	res.ImageFormat = format
	bounds := img.Bounds()
	res.ImageWidth = bounds.Dx()
	res.ImageHeight = bounds.Dy()

	res.FinalSuccess = true
	return res, img
}

func looksLikeErrorPage(body []byte) bool {
	sample := body
	if len(sample) > errorPageScanBytes {
		sample = sample[:errorPageScanBytes]
	}
	text := strings.ToLower(string(sample))
	for _, marker := range errorPageMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func reportedLength(header string) int64 {
	var n int64
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
