package receiver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploadq/internal/logging"
	"uploadq/internal/testsupport"
	"uploadq/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	srv, err := NewServer(cfg, "test", logging.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServerAcceptsHTTPTransportUploads(t *testing.T) {
	srv, ts := newTestServer(t)
	tr := transport.NewHTTP(ts.URL + "/upload")
	ctx := context.Background()

	res := tr.Send(ctx, transport.Request{
		Kind:   transport.Whole,
		Name:   "hello world.txt",
		Body:   strings.NewReader("hello"),
		Length: 5,
	}, nil)
	require.Equal(t, transport.Loaded, res.Signal, "err: %v", res.Err)
	assert.True(t, transport.Interpret(res).Success, string(res.Body))

	payload := bytes.Repeat([]byte("z"), 10)
	for i, part := range [][]byte{payload[:6], payload[6:]} {
		res := tr.Send(ctx, transport.Request{
			Kind:      transport.Part,
			Name:      "parts.bin",
			Body:      bytes.NewReader(part),
			Length:    int64(len(part)),
			FileID:    "99-parts.bin",
			PartIndex: i,
			PartCount: 2,
		}, nil)
		require.Equal(t, transport.Loaded, res.Signal, "err: %v", res.Err)
		require.True(t, transport.Interpret(res).Success, string(res.Body))
	}

	files, err := srv.Store().List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "hello world.txt", files[0].FileName)
	assert.Equal(t, "parts.bin", files[1].FileName)
	assert.EqualValues(t, 10, files[1].FileSize)
}

func TestServerErrorsAreUnsuccessfulResponses(t *testing.T) {
	_, ts := newTestServer(t)
	tr := transport.NewHTTP(ts.URL + "/upload")

	res := tr.Send(context.Background(), transport.Request{
		Kind:      transport.Part,
		Name:      "x.bin",
		Body:      strings.NewReader("abc"),
		Length:    3,
		FileID:    "1-x.bin",
		PartIndex: 5,
		PartCount: 2,
	}, nil)
	require.Equal(t, transport.Loaded, res.Signal)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.False(t, transport.Interpret(res).Success)
	assert.Contains(t, string(res.Body), `"success":false`)
}

func TestServerReportsMissingPartsOnFinalPart(t *testing.T) {
	srv, ts := newTestServer(t)
	tr := transport.NewHTTP(ts.URL + "/upload")
	send := func(index int) transport.Result {
		return tr.Send(context.Background(), transport.Request{
			Kind:      transport.Part,
			Name:      "late.bin",
			Body:      strings.NewReader("abc"),
			Length:    3,
			FileID:    "7-late.bin",
			PartIndex: index,
			PartCount: 3,
		}, nil)
	}

	res := send(1)
	require.Equal(t, transport.Loaded, res.Signal, "err: %v", res.Err)
	require.True(t, transport.Interpret(res).Success, string(res.Body))

	res = send(2)
	require.Equal(t, transport.Loaded, res.Signal, "err: %v", res.Err)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	resp := transport.Interpret(res)
	assert.True(t, resp.Incomplete(), string(res.Body))
	assert.Equal(t, transport.CodeIncompleteUpload, resp.Code)
	assert.Equal(t, []int{0}, resp.MissingParts)

	files, err := srv.Store().List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestServerUnknownRoute(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(echo.HeaderXRequestID))
}

func TestClientManagesFiles(t *testing.T) {
	srv, ts := newTestServer(t)
	_, _, err := srv.Store().SaveWhole("report.pdf", 4, strings.NewReader("%PDF"))
	require.NoError(t, err)

	client, err := NewClient(ts.URL+"/upload", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	files, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "report.pdf", files[0].FileName)

	newName, err := client.Rename(ctx, "report.pdf", "final.pdf")
	require.NoError(t, err)
	assert.Equal(t, "final.pdf", newName)

	_, err = client.Rename(ctx, "report.pdf", "again.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, client.Delete(ctx, "final.pdf"))
	assert.ErrorIs(t, client.Delete(ctx, "final.pdf"), ErrNotFound)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv, ts := newTestServer(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		_, _, err := srv.Store().SaveWhole(name, 1, strings.NewReader("x"))
		require.NoError(t, err)
	}
	client, err := NewClient(ts.URL+"/upload", time.Second)
	require.NoError(t, err)

	_, err = client.Rename(context.Background(), "a.txt", "b.txt")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "CONFLICT", apiErr.Code)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient("/upload", 0)
	assert.Error(t, err)
}

func TestServerStartAndStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, err := NewServer(cfg, "test", logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	testsupport.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/health")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, "server still answering after shutdown")
}
