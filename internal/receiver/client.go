package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"uploadq/internal/transport"
)

// Client manages files stored on a receiver. Endpoints are resolved
// relative to the upload URL, so a receiver mounted under a prefix works
// without extra configuration.
type Client struct {
	base   *url.URL
	client *http.Client
}

// NewClient returns a client for the receiver serving uploadURL.
func NewClient(uploadURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(uploadURL))
	if err != nil {
		return nil, fmt.Errorf("parse upload url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upload url %q is not absolute", uploadURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: base, client: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

// List returns the files stored on the receiver.
func (c *Client) List(ctx context.Context) ([]FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("files"), nil)
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("list files: receiver reported failure")
	}
	return resp.Items, nil
}

// Rename renames a stored file and returns its new name. A missing file
// yields ErrNotFound.
func (c *Client) Rename(ctx context.Context, fileName, newName string) (string, error) {
	var resp renameResponse
	if err := c.postForm(ctx, "files/rename", url.Values{"fileName": {fileName}, "newName": {newName}}, &resp); err != nil {
		return "", err
	}
	if resp.FileNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	if !resp.Success {
		return "", fmt.Errorf("rename %s: receiver reported failure", fileName)
	}
	return resp.NewFileName, nil
}

// Delete removes a stored file. A missing file yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, fileName string) error {
	var resp deleteResponse
	if err := c.postForm(ctx, "files/delete", url.Values{"fileName": {fileName}}, &resp); err != nil {
		return err
	}
	if resp.FileNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	if !resp.Success {
		return fmt.Errorf("delete %s: receiver reported failure", fileName)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set(transport.HeaderRequestedWith, transport.RequestedWithXHR)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			apiErr.Status = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
