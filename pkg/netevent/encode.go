package netevent

import (
	"net/http"
	"strings"
	"time"
)

// processStart anchors Timestamp. It carries a monotonic clock reading.
var processStart = time.Now()

// Timestamp converts t to monotonic seconds since the process started.
// Times read from time.Now keep their monotonic reading, so event
// timestamps are unaffected by wall clock adjustments.
func Timestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(processStart).Seconds()
}

// WallTime converts t to fractional seconds since the Unix epoch.
func WallTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FlattenHeaders joins multi-valued headers with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func resourceType(t string) string {
	if t == "" {
		return ResourceOther
	}
	return t
}

// EncodeRequestWillBeSent builds the params announcing a new request.
// A text request body is attached as postData under the same truncation
// policy as response bodies.
func EncodeRequestWillBeSent(req Request, policy Policy) RequestWillBeSentParams {
	payload := RequestPayload{
		URL:         req.URL,
		Method:      req.Method,
		Headers:     FlattenHeaders(req.Headers),
		HasPostData: len(req.Body) > 0,
	}
	if len(req.Body) > 0 {
		contentType := req.Headers.Get("Content-Type")
		if ShouldDecodeAsText(contentType) {
			preview := policy.Apply(ToUTF8(req.Body, contentType))
			payload.PostData = preview.Text
			payload.PostDataTruncated = preview.Truncated
		}
	}

	return RequestWillBeSentParams{
		RequestID: req.ID,
		Request:   payload,
		Timestamp: Timestamp(req.StartedAt),
		WallTime:  WallTime(req.StartedAt),
		Initiator: Initiator{Type: "other"},
		Type:      resourceType(req.Type),
	}
}

// EncodeResponseReceived builds the params for received response headers.
// startedAt is the time the request was created and anchors the timing.
func EncodeResponseReceived(requestID string, resp Response, resType string, startedAt time.Time) ResponseReceivedParams {
	statusText := resp.StatusText
	if statusText == "" {
		statusText = http.StatusText(resp.Status)
	}

	payload := ResponsePayload{
		URL:             resp.URL,
		Status:          resp.Status,
		StatusText:      statusText,
		Headers:         FlattenHeaders(resp.Headers),
		MimeType:        MediaType(resp.Headers.Get("Content-Type")),
		Protocol:        resp.Protocol,
		RemoteIPAddress: resp.RemoteAddr,
	}
	if !startedAt.IsZero() && !resp.ReceivedAt.IsZero() {
		payload.Timing = &ResourceTiming{
			RequestTime:       Timestamp(startedAt),
			ReceiveHeadersEnd: Millis(resp.ReceivedAt.Sub(startedAt)),
		}
	}

	return ResponseReceivedParams{
		RequestID: requestID,
		Timestamp: Timestamp(resp.ReceivedAt),
		Type:      resourceType(resType),
		Response:  payload,
	}
}

// EncodeDataReceived builds the params for one received body chunk.
func EncodeDataReceived(requestID string, at time.Time, chunk, encoded, total int64) DataReceivedParams {
	return DataReceivedParams{
		RequestID:         requestID,
		Timestamp:         Timestamp(at),
		DataLength:        chunk,
		EncodedDataLength: encoded,
		TotalLength:       total,
	}
}

// EncodeLoadingFinished builds the params for a completed request.
func EncodeLoadingFinished(requestID string, at time.Time, encodedLength int64, duration, ttfb time.Duration) LoadingFinishedParams {
	return LoadingFinishedParams{
		RequestID:         requestID,
		Timestamp:         Timestamp(at),
		EncodedDataLength: encodedLength,
		Duration:          Millis(duration),
		TimeToFirstByte:   Millis(ttfb),
	}
}

// EncodeLoadingFailed builds the params for a failed or aborted request.
func EncodeLoadingFailed(requestID string, at time.Time, resType, errorText string, canceled bool) LoadingFailedParams {
	if canceled && errorText == "" {
		errorText = ErrorTextCanceled
	}
	return LoadingFailedParams{
		RequestID: requestID,
		Timestamp: Timestamp(at),
		Type:      resourceType(resType),
		ErrorText: errorText,
		Canceled:  canceled,
	}
}
