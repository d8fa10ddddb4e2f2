package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	"uploadq/internal/logging"
)

const (
	maxResponseBytes = 1 << 20
	sniffBytes       = 3072
)

// Option configures an HTTP or Form transport.
type Option func(*endpoint)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(e *endpoint) {
		if client != nil {
			e.client = client
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(e *endpoint) {
		for key, value := range headers {
			e.headers.Set(key, value)
		}
	}
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(e *endpoint) {
		e.timeout = timeout
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *endpoint) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// endpoint is the request plumbing shared by both transports.
type endpoint struct {
	url     string
	client  *http.Client
	headers http.Header
	timeout time.Duration
	logger  *slog.Logger
}

func newEndpoint(rawURL string, opts []Option) endpoint {
	e := endpoint{
		url:     rawURL,
		client:  &http.Client{},
		headers: http.Header{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "transport")
	return e
}

// do executes req and classifies the result. parent is the caller's context,
// used to tell an abort from a timeout.
func (e endpoint) do(parent context.Context, build func(ctx context.Context) (*http.Request, error)) Result {
	ctx := parent
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return Result{Signal: Errored, Err: fmt.Errorf("build request: %w", err)}
	}
	for key, values := range e.headers {
		if req.Header.Get(key) == "" {
			req.Header[key] = values
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return e.failure(parent, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return e.failure(parent, fmt.Errorf("read response: %w", err))
	}
	e.logger.Debug("upload request answered",
		logging.Int("status_code", resp.StatusCode),
		logging.Int("body_bytes", len(body)),
	)
	return Result{Signal: Loaded, StatusCode: resp.StatusCode, Body: body}
}

func (e endpoint) failure(parent context.Context, err error) Result {
	if parent.Err() != nil {
		return Result{Signal: Aborted, Err: parent.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("request timed out: %w", err)
	}
	return Result{Signal: Errored, Err: err}
}

// HTTP streams requests with byte progress and supports chunked parts.
type HTTP struct {
	endpoint
}

// NewHTTP returns a transport posting to rawURL.
func NewHTTP(rawURL string, opts ...Option) *HTTP {
	return &HTTP{endpoint: newEndpoint(rawURL, opts)}
}

// Capabilities reports slicing and progress support.
func (h *HTTP) Capabilities() Capabilities {
	return Capabilities{Slicing: true, Progress: true}
}

// Send performs one upload request.
func (h *HTTP) Send(ctx context.Context, req Request, progress ProgressFunc) Result {
	switch req.Kind {
	case Part:
		return h.sendPart(ctx, req, progress)
	default:
		return h.sendWhole(ctx, req, progress)
	}
}

func (h *HTTP) sendPart(ctx context.Context, req Request, progress ProgressFunc) Result {
	return h.do(ctx, func(ctx context.Context) (*http.Request, error) {
		body := &countingReader{r: req.Body, total: req.Length, progress: progress}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, body)
		if err != nil {
			return nil, err
		}
		httpReq.ContentLength = req.Length
		httpReq.Header.Set("Content-Type", "application/octet-stream")
		httpReq.Header.Set(HeaderRequestedWith, RequestedWithXHR)
		httpReq.Header.Set(HeaderFileID, EncodeComponent(req.FileID))
		httpReq.Header.Set(HeaderFileName, EncodeName(req.Name))
		httpReq.Header.Set(HeaderPartIndex, strconv.Itoa(req.PartIndex))
		httpReq.Header.Set(HeaderPartCount, strconv.Itoa(req.PartCount))
		httpReq.Header.Set(HeaderPartSize, strconv.FormatInt(req.Length, 10))
		return httpReq, nil
	})
}

func (h *HTTP) sendWhole(ctx context.Context, req Request, progress ProgressFunc) Result {
	head, contentType, err := sniff(req.Body)
	if err != nil {
		return Result{Signal: Errored, Err: err}
	}
	source := &countingReader{
		r:        io.MultiReader(bytes.NewReader(head), req.Body),
		total:    req.Length,
		progress: progress,
	}

	return h.do(ctx, func(ctx context.Context) (*http.Request, error) {
		pr, pw := io.Pipe()
		form := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeFilePart(form, req.Name, contentType, source))
		}()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		httpReq.Header.Set("Content-Type", form.FormDataContentType())
		httpReq.Header.Set(HeaderRequestedWith, RequestedWithXHR)
		httpReq.Header.Set(HeaderFileName, EncodeName(req.Name))
		return httpReq, nil
	})
}

// Form posts whole files as a plain multipart form. It cannot slice sources
// and reports no progress, so every upload through it is single-shot.
type Form struct {
	endpoint
}

// NewForm returns a form transport posting to rawURL.
func NewForm(rawURL string, opts ...Option) *Form {
	return &Form{endpoint: newEndpoint(rawURL, opts)}
}

// Capabilities reports no slicing and no progress.
func (f *Form) Capabilities() Capabilities {
	return Capabilities{}
}

// Send buffers the form body and posts it. Part requests are rejected.
func (f *Form) Send(ctx context.Context, req Request, _ ProgressFunc) Result {
	if req.Kind == Part {
		return Result{Signal: Errored, Err: errors.New("form transport cannot send parts")}
	}
	head, contentType, err := sniff(req.Body)
	if err != nil {
		return Result{Signal: Errored, Err: err}
	}
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := writeFilePart(form, req.Name, contentType, io.MultiReader(bytes.NewReader(head), req.Body)); err != nil {
		if ctx.Err() != nil {
			return Result{Signal: Aborted, Err: ctx.Err()}
		}
		return Result{Signal: Errored, Err: err}
	}

	return f.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", form.FormDataContentType())
		return httpReq, nil
	})
}

func writeFilePart(form *multipart.Writer, name, contentType string, body io.Reader) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, escapeQuotes(norm.NFC.String(name))))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copy file body: %w", err)
	}
	return form.Close()
}

// sniff reads the head of body to detect its content type. The returned head
// must be replayed before the rest of body.
func sniff(body io.Reader) ([]byte, string, error) {
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", fmt.Errorf("read file head: %w", err)
	}
	head = head[:n]
	return head, mimetype.Detect(head).String(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// EncodeComponent escapes s the way browsers' encodeURIComponent does.
func EncodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// EncodeName NFC-normalizes a file name and escapes it for a header value.
func EncodeName(name string) string {
	return EncodeComponent(norm.NFC.String(name))
}

// DecodeName reverses EncodeName. Undecodable input is returned unchanged.
func DecodeName(value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return norm.NFC.String(decoded)
}

// countingReader reports cumulative bytes read through progress.
type countingReader struct {
	r        io.Reader
	loaded   int64
	total    int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.loaded += int64(n)
		if c.progress != nil {
			c.progress(c.loaded, c.total)
		}
	}
	return n, err
}
