package transport_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"uploadq/internal/transport"
)

func TestParseResponse(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"success":true}`, true},
		{`{"success":false}`, false},
		{`{"success":"true"}`, false},
		{`{}`, false},
		{`[true]`, false},
		{`not json`, false},
		{``, false},
		{`{"success":true,"extra":1}`, true},
	}
	for _, tc := range cases {
		if got := transport.ParseResponse([]byte(tc.body)).Success; got != tc.want {
			t.Errorf("ParseResponse(%q).Success = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestInterpretRejectsErrorStatus(t *testing.T) {
	res := transport.Result{Signal: transport.Loaded, StatusCode: 500, Body: []byte(`{"success":true}`)}
	if transport.Interpret(res).Success {
		t.Fatal("expected 5xx to be unsuccessful")
	}
}

func TestInterpretIncompleteUpload(t *testing.T) {
	res := transport.Result{
		Signal:     transport.Loaded,
		StatusCode: http.StatusConflict,
		Body:       []byte(`{"success":false,"code":"INCOMPLETE_UPLOAD","message":"upload is missing earlier parts","missingParts":[0,2]}`),
	}
	resp := transport.Interpret(res)
	if !resp.Incomplete() {
		t.Fatalf("Incomplete() = false for %+v", resp)
	}
	if len(resp.MissingParts) != 2 || resp.MissingParts[0] != 0 || resp.MissingParts[1] != 2 {
		t.Fatalf("MissingParts = %v, want [0 2]", resp.MissingParts)
	}

	other := transport.ParseResponse([]byte(`{"success":false,"code":"CONFLICT","missingParts":"x"}`))
	if other.Incomplete() || other.MissingParts != nil {
		t.Fatalf("unexpected incomplete response %+v", other)
	}
}

func TestEncodeNameMatchesBrowserEscaping(t *testing.T) {
	cases := map[string]string{
		"a b.txt":      "a%20b.txt",
		"x+y&z.bin":    "x%2By%26z.bin",
		"caf\u00e9.md":  "caf%C3%A9.md",
		"cafe\u0301.md": "caf%C3%A9.md",
	}
	for in, want := range cases {
		if got := transport.EncodeName(in); got != want {
			t.Errorf("EncodeName(%q) = %q, want %q", in, got, want)
		}
		if got := transport.DecodeName(transport.EncodeName(in)); got != transport.DecodeName(want) {
			t.Errorf("DecodeName round trip for %q = %q", in, got)
		}
	}
}

func TestHTTPSendPartHeadersAndProgress(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	payload := bytes.Repeat([]byte("p"), 4096)
	var (
		mu   sync.Mutex
		last int64
	)
	tr := transport.NewHTTP(server.URL, transport.WithHeaders(map[string]string{"X-Api-Key": "k"}))
	res := tr.Send(context.Background(), transport.Request{
		Kind:      transport.Part,
		Name:      "my file.bin",
		Body:      bytes.NewReader(payload),
		Length:    int64(len(payload)),
		FileID:    "1700000000000-my file.bin",
		PartIndex: 1,
		PartCount: 3,
	}, func(loaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if loaded < last {
			t.Errorf("progress went backwards: %d < %d", loaded, last)
		}
		if total != int64(len(payload)) {
			t.Errorf("unexpected total %d", total)
		}
		last = loaded
	})

	if res.Signal != transport.Loaded {
		t.Fatalf("expected loaded, got %s (%v)", res.Signal, res.Err)
	}
	if !transport.Interpret(res).Success {
		t.Fatalf("expected success body, got %q", res.Body)
	}
	if !bytes.Equal(gotBody, payload) {
		t.Fatal("server received different bytes")
	}
	want := map[string]string{
		transport.HeaderFileID:        "1700000000000-my%20file.bin",
		transport.HeaderFileName:      "my%20file.bin",
		transport.HeaderPartIndex:     "1",
		transport.HeaderPartCount:     "3",
		transport.HeaderPartSize:      "4096",
		transport.HeaderRequestedWith: transport.RequestedWithXHR,
		"X-Api-Key":                   "k",
	}
	for key, value := range want {
		if got := gotHeaders.Get(key); got != value {
			t.Errorf("header %s = %q, want %q", key, got, value)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if last != int64(len(payload)) {
		t.Fatalf("final progress %d, want %d", last, len(payload))
	}
}

func TestHTTPSendWholeUsesMultipartField(t *testing.T) {
	var (
		gotName     string
		gotContent  []byte
		gotType     string
		gotFileName string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.Header.Get(transport.HeaderFileName)
		file, header, err := r.FormFile(transport.FormField)
		if err != nil {
			t.Errorf("FormFile: %v", err)
			_, _ = w.Write([]byte(`{"success":false}`))
			return
		}
		defer file.Close()
		gotContent, _ = io.ReadAll(file)
		gotType = header.Header.Get("Content-Type")
		gotFileName = header.Filename
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	content := []byte("%PDF-1.4\n" + strings.Repeat("x", 5000))
	res := transport.NewHTTP(server.URL).Send(context.Background(), transport.Request{
		Kind:   transport.Whole,
		Name:   "report.pdf",
		Body:   bytes.NewReader(content),
		Length: int64(len(content)),
	}, nil)

	if res.Signal != transport.Loaded || !transport.Interpret(res).Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotName != "report.pdf" || gotFileName != "report.pdf" {
		t.Fatalf("unexpected names header=%q form=%q", gotName, gotFileName)
	}
	if !bytes.Equal(gotContent, content) {
		t.Fatal("server received different bytes")
	}
	if gotType != "application/pdf" {
		t.Fatalf("expected sniffed pdf content type, got %q", gotType)
	}
}

func TestHTTPSendAbortedByContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan transport.Result, 1)
	go func() {
		done <- transport.NewHTTP(server.URL).Send(ctx, transport.Request{
			Kind: transport.Part, Name: "a", Body: bytes.NewReader([]byte("abc")), Length: 3, FileID: "f", PartCount: 1,
		}, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res.Signal != transport.Aborted {
			t.Fatalf("expected aborted, got %s (%v)", res.Signal, res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after cancel")
	}
}

func TestHTTPSendTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	res := transport.NewHTTP(server.URL, transport.WithTimeout(50*time.Millisecond)).Send(context.Background(), transport.Request{
		Kind: transport.Part, Name: "a", Body: bytes.NewReader([]byte("abc")), Length: 3, FileID: "f", PartCount: 1,
	}, nil)
	if res.Signal != transport.Errored {
		t.Fatalf("expected error signal, got %s", res.Signal)
	}
}

func TestHTTPSendUnreachableIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	res := transport.NewHTTP(url).Send(context.Background(), transport.Request{
		Kind: transport.Whole, Name: "a", Body: bytes.NewReader([]byte("abc")), Length: 3,
	}, nil)
	if res.Signal != transport.Errored || res.Err == nil {
		t.Fatalf("expected transport error, got %+v", res)
	}
}

func TestFormTransport(t *testing.T) {
	var sawRequestedWith string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequestedWith = r.Header.Get(transport.HeaderRequestedWith)
		if _, _, err := r.FormFile(transport.FormField); err != nil {
			t.Errorf("FormFile: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	tr := transport.NewForm(server.URL)
	if tr.Capabilities().Chunked() {
		t.Fatal("form transport must not claim chunking support")
	}

	progressCalled := false
	res := tr.Send(context.Background(), transport.Request{
		Kind: transport.Whole, Name: "a.txt", Body: strings.NewReader("hello"), Length: -1,
	}, func(int64, int64) { progressCalled = true })
	if res.Signal != transport.Loaded || !transport.Interpret(res).Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if progressCalled {
		t.Fatal("form transport reported progress")
	}
	if sawRequestedWith != "" {
		t.Fatalf("form post should not carry %s", transport.HeaderRequestedWith)
	}

	partRes := tr.Send(context.Background(), transport.Request{Kind: transport.Part, Body: strings.NewReader("x"), Length: 1}, nil)
	if partRes.Signal != transport.Errored {
		t.Fatalf("expected part request to fail, got %s", partRes.Signal)
	}
}
