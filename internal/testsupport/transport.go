package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"uploadq/internal/transport"
)

// FakeCall is one request observed by a FakeTransport.
type FakeCall struct {
	Kind      transport.Kind
	Name      string
	FileID    string
	PartIndex int
	PartCount int
	Length    int64
	Body      []byte
}

// Responder decides how a FakeTransport answers a call.
type Responder func(ctx context.Context, call FakeCall, progress transport.ProgressFunc) transport.Result

// FakeTransport is a scripted transport.Transport for workflow tests.
type FakeTransport struct {
	caps transport.Capabilities

	mu          sync.Mutex
	respond     Responder
	calls       []FakeCall
	inFlight    int
	maxInFlight int
}

// NewFakeTransport returns a transport with caps that answers through
// respond, or accepts everything when respond is nil.
func NewFakeTransport(caps transport.Capabilities, respond Responder) *FakeTransport {
	if respond == nil {
		respond = Accept()
	}
	return &FakeTransport{caps: caps, respond: respond}
}

// ChunkingCaps reports slicing and progress support.
func ChunkingCaps() transport.Capabilities {
	return transport.Capabilities{Slicing: true, Progress: true}
}

// SetResponder swaps the responder for subsequent calls.
func (f *FakeTransport) SetResponder(respond Responder) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

// Capabilities implements transport.Transport.
func (f *FakeTransport) Capabilities() transport.Capabilities {
	return f.caps
}

// Send records the call and delegates to the responder.
func (f *FakeTransport) Send(ctx context.Context, req transport.Request, progress transport.ProgressFunc) transport.Result {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return transport.Result{Signal: transport.Errored, Err: err}
	}
	call := FakeCall{
		Kind:      req.Kind,
		Name:      req.Name,
		FileID:    req.FileID,
		PartIndex: req.PartIndex,
		PartCount: req.PartCount,
		Length:    req.Length,
		Body:      body,
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	respond := f.respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if ctx.Err() != nil {
		return transport.Result{Signal: transport.Aborted, Err: ctx.Err()}
	}
	if progress == nil {
		progress = func(int64, int64) {}
	}
	return respond(ctx, call, progress)
}

// Calls returns the recorded calls in order.
func (f *FakeTransport) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// InFlight is the number of sends currently blocked in the responder.
func (f *FakeTransport) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// MaxInFlight is the highest number of concurrent sends observed.
func (f *FakeTransport) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// WaitForCalls polls until at least n calls were recorded.
func (f *FakeTransport) WaitForCalls(t testing.TB, n int) []FakeCall {
	t.Helper()
	Eventually(t, func() bool { return len(f.Calls()) >= n }, "%d transport calls", n)
	return f.Calls()
}

// Eventually polls cond until it holds or five seconds pass.
func Eventually(t testing.TB, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+format, args...)
}

// Accept reports the full body as sent and answers {"success":true}.
func Accept() Responder {
	return Reply(http.StatusOK, `{"success":true}`)
}

// Reject answers {"success":false}.
func Reject() Responder {
	return Reply(http.StatusOK, `{"success":false}`)
}

// Reply reports the full body as sent and answers with status and body.
func Reply(status int, body string) Responder {
	return func(_ context.Context, call FakeCall, progress transport.ProgressFunc) transport.Result {
		size := int64(len(call.Body))
		progress(size, size)
		return transport.Result{Signal: transport.Loaded, StatusCode: status, Body: []byte(body)}
	}
}

// Incomplete answers like a receiver that lacks the listed parts when the
// final part arrives.
func Incomplete(missing ...int) Responder {
	body, _ := json.Marshal(transport.Response{
		Code:         transport.CodeIncompleteUpload,
		Message:      "upload is missing earlier parts",
		MissingParts: missing,
	})
	return Reply(http.StatusConflict, string(body))
}

// Unreachable fails every call with a transport error.
func Unreachable() Responder {
	return func(context.Context, FakeCall, transport.ProgressFunc) transport.Result {
		return transport.Result{Signal: transport.Errored, Err: errors.New("connection refused")}
	}
}

// Hold reports half the body as sent and then blocks until release is
// closed, answering with then, or until ctx is cancelled.
func Hold(release <-chan struct{}, then Responder) Responder {
	return func(ctx context.Context, call FakeCall, progress transport.ProgressFunc) transport.Result {
		size := int64(len(call.Body))
		progress(size/2, size)
		select {
		case <-ctx.Done():
			return transport.Result{Signal: transport.Aborted, Err: ctx.Err()}
		case <-release:
			return then(ctx, call, progress)
		}
	}
}

// Silent never reports progress and blocks until ctx is cancelled.
func Silent() Responder {
	return func(ctx context.Context, _ FakeCall, _ transport.ProgressFunc) transport.Result {
		<-ctx.Done()
		return transport.Result{Signal: transport.Aborted, Err: ctx.Err()}
	}
}

// Sequence answers the nth call with responders[n]; the last responder
// repeats.
func Sequence(responders ...Responder) Responder {
	var (
		mu sync.Mutex
		n  int
	)
	return func(ctx context.Context, call FakeCall, progress transport.ProgressFunc) transport.Result {
		mu.Lock()
		idx := n
		if idx >= len(responders) {
			idx = len(responders) - 1
		}
		n++
		mu.Unlock()
		return responders[idx](ctx, call, progress)
	}
}
