package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// Capabilities describes what a transport can do. Chunked transfer needs both.
type Capabilities struct {
	// Slicing means the transport can send a byte range of a source as its
	// own request body.
	Slicing bool
	// Progress means the transport reports per-request byte progress.
	Progress bool
}

// Chunked reports whether the capability set supports chunked transfer.
func (c Capabilities) Chunked() bool {
	return c.Slicing && c.Progress
}

// Kind selects the request encoding.
type Kind int

const (
	// Whole sends an entire source as the multipart form field "file".
	Whole Kind = iota
	// Part sends one raw byte range with part headers.
	Part
)

// Protocol header names.
const (
	HeaderFileID        = "X-File-ID"
	HeaderFileName      = "X-File-Name"
	HeaderPartIndex     = "X-Part-Index"
	HeaderPartCount     = "X-Part-Count"
	HeaderPartSize      = "X-Part-Size"
	HeaderRequestedWith = "X-Requested-With"
	RequestedWithXHR    = "XMLHttpRequest"
	FormField           = "file"
)

// Request is one upload request.
type Request struct {
	Kind Kind
	// Name is the declared file name; transports URL-encode it.
	Name string
	Body io.Reader
	// Length of Body in bytes, or -1 when unknown.
	Length int64
	// Part headers, used when Kind is Part.
	FileID    string
	PartIndex int
	PartCount int
}

// ProgressFunc receives cumulative bytes sent for the current request and the
// request total. Either may be -1 when not computable.
type ProgressFunc func(loaded, total int64)

// Signal is how a request ended.
type Signal int

const (
	// Loaded means the server answered; Body holds the response.
	Loaded Signal = iota
	// Aborted means the request's context was cancelled.
	Aborted
	// Errored means the server could not be reached or the exchange broke.
	Errored
)

func (s Signal) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Aborted:
		return "aborted"
	case Errored:
		return "error"
	default:
		return "signal(" + strconv.Itoa(int(s)) + ")"
	}
}

// Result is the outcome of a single request.
type Result struct {
	Signal     Signal
	StatusCode int
	Body       []byte
	Err        error
}

// Transport performs upload requests. Cancelling ctx aborts the request and
// yields an Aborted result. Implementations must be safe for concurrent use.
type Transport interface {
	Capabilities() Capabilities
	Send(ctx context.Context, req Request, progress ProgressFunc) Result
}

// CodeIncompleteUpload is the error code a receiver answers with when the
// final part of a chunked upload arrives but earlier parts are not staged.
// The file id cannot complete and the upload has to start over.
const CodeIncompleteUpload = "INCOMPLETE_UPLOAD"

// Response is the server's answer to an upload request.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	// MissingParts lists part indexes the receiver does not hold.
	MissingParts []int `json:"missingParts,omitempty"`
}

// Incomplete reports whether the receiver refused to finish a chunked upload
// because earlier parts are gone.
func (r Response) Incomplete() bool {
	return !r.Success && r.Code == CodeIncompleteUpload
}

// ParseResponse decodes a response body. Anything that is not a JSON object
// with a boolean success field counts as unsuccessful.
func ParseResponse(body []byte) Response {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}
	}
	var resp Response
	if success, ok := raw["success"]; ok {
		if err := json.Unmarshal(success, &resp.Success); err != nil {
			resp.Success = false
		}
	}
	if message, ok := raw["message"]; ok {
		_ = json.Unmarshal(message, &resp.Message)
	}
	if code, ok := raw["code"]; ok {
		_ = json.Unmarshal(code, &resp.Code)
	}
	if missing, ok := raw["missingParts"]; ok {
		if err := json.Unmarshal(missing, &resp.MissingParts); err != nil {
			resp.MissingParts = nil
		}
	}
	return resp
}

// Interpret parses a Loaded result. Non-2xx statuses are unsuccessful even if
// the body claims otherwise.
func Interpret(res Result) Response {
	resp := ParseResponse(res.Body)
	if res.StatusCode != 0 && (res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices) {
		resp.Success = false
	}
	return resp
}
