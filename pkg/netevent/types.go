package netevent

import (
	"net/http"
	"time"
)

// Method names of the Network domain.
const (
	MethodRequestWillBeSent = "Network.requestWillBeSent"
	MethodResponseReceived  = "Network.responseReceived"
	MethodDataReceived      = "Network.dataReceived"
	MethodLoadingFinished   = "Network.loadingFinished"
	MethodLoadingFailed     = "Network.loadingFailed"
	MethodGetResponseBody   = "Network.getResponseBody"
	MethodEnable            = "Network.enable"
	MethodDisable           = "Network.disable"
)

// Resource types reported with lifecycle events.
const (
	ResourceFetch    = "Fetch"
	ResourceXHR      = "XHR"
	ResourceDocument = "Document"
	ResourceOther    = "Other"
)

// ErrorTextCanceled is reported for aborted requests.
const ErrorTextCanceled = "net::ERR_ABORTED"

// Request is a raw observation of an outgoing request, as supplied by an
// interception source.
type Request struct {
	ID        string
	URL       string
	Method    string
	Headers   http.Header
	Body      []byte
	Type      string
	StartedAt time.Time
}

// Response is a raw observation of received response headers.
type Response struct {
	URL        string
	Status     int
	StatusText string
	Headers    http.Header
	Protocol   string
	RemoteAddr string
	ReceivedAt time.Time
}

// RequestPayload is the request description carried by requestWillBeSent.
type RequestPayload struct {
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	PostData          string            `json:"postData,omitempty"`
	HasPostData       bool              `json:"hasPostData,omitempty"`
	PostDataTruncated bool              `json:"postDataTruncated,omitempty"`
}

// Initiator describes what started a request.
type Initiator struct {
	Type string `json:"type"`
}

// RequestWillBeSentParams are the params of Network.requestWillBeSent.
type RequestWillBeSentParams struct {
	RequestID string         `json:"requestId"`
	Request   RequestPayload `json:"request"`
	Timestamp float64        `json:"timestamp"`
	WallTime  float64        `json:"wallTime"`
	Initiator Initiator      `json:"initiator"`
	Type      string         `json:"type"`
}

// ResourceTiming carries timing relative to RequestTime, in milliseconds.
type ResourceTiming struct {
	RequestTime       float64 `json:"requestTime"`
	ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
}

// ResponsePayload is the response description carried by responseReceived.
type ResponsePayload struct {
	URL             string            `json:"url"`
	Status          int               `json:"status"`
	StatusText      string            `json:"statusText"`
	Headers         map[string]string `json:"headers"`
	MimeType        string            `json:"mimeType"`
	Protocol        string            `json:"protocol,omitempty"`
	RemoteIPAddress string            `json:"remoteIPAddress,omitempty"`
	Timing          *ResourceTiming   `json:"timing,omitempty"`
}

// ResponseReceivedParams are the params of Network.responseReceived.
type ResponseReceivedParams struct {
	RequestID string          `json:"requestId"`
	Timestamp float64         `json:"timestamp"`
	Type      string          `json:"type"`
	Response  ResponsePayload `json:"response"`
}

// DataReceivedParams are the params of Network.dataReceived.
// DataLength is the size of this chunk; TotalLength is cumulative.
type DataReceivedParams struct {
	RequestID         string  `json:"requestId"`
	Timestamp         float64 `json:"timestamp"`
	DataLength        int64   `json:"dataLength"`
	EncodedDataLength int64   `json:"encodedDataLength"`
	TotalLength       int64   `json:"totalDataLength"`
}

// LoadingFinishedParams are the params of Network.loadingFinished.
type LoadingFinishedParams struct {
	RequestID         string  `json:"requestId"`
	Timestamp         float64 `json:"timestamp"`
	EncodedDataLength int64   `json:"encodedDataLength"`
	Duration          float64 `json:"duration"`
	TimeToFirstByte   float64 `json:"ttfb,omitempty"`
}

// LoadingFailedParams are the params of Network.loadingFailed.
type LoadingFailedParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
	ErrorText string  `json:"errorText"`
	Canceled  bool    `json:"canceled,omitempty"`
}

// GetResponseBodyParams are the params of a Network.getResponseBody pull.
type GetResponseBodyParams struct {
	RequestID string `json:"requestId"`
}

// GetResponseBodyResult is the reply to a Network.getResponseBody pull.
type GetResponseBodyResult struct {
	Body          string `json:"body"`
	Base64Encoded bool   `json:"base64Encoded"`
	WasTruncated  bool   `json:"wasTruncated"`
}
