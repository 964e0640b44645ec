package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Client talks to a remote hub. The two operations the pipeline needs
// are Get (identifier to artifact) and Push (artifact to durable
// identifier); List and Resolve serve the CLI.
type Client struct {
	// BaseURL is the hub root, e.g. "http://localhost:8750".
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// List fetches the hub's emulator index.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/emulators", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode emulator list: %w", err)
	}
	return entries, nil
}

// Resolve maps a name to its index entry. Returns (nil, nil) when the
// hub does not know the name.
func (c *Client) Resolve(ctx context.Context, name string) (*Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/emulators/"+url.PathEscape(name), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, responseError(resp)
	}
	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode emulator entry: %w", err)
	}
	return &entry, nil
}

// Fetch downloads an artifact by digest and verifies the bytes hash to
// it. Returns (nil, nil) when the hub does not have the digest.
func (c *Client) Fetch(ctx context.Context, digest fingerprint.Digest) (*artifact.Artifact, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/artifacts/"+url.PathEscape(string(digest)), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, responseError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	a, err := artifact.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fetched artifact invalid: %w", err)
	}
	if err := a.Verify(digest); err != nil {
		return nil, fmt.Errorf("fetched artifact: %w", err)
	}
	return a, nil
}

// Get resolves a name and downloads its artifact. Returns (nil, nil)
// when the name is unknown.
func (c *Client) Get(ctx context.Context, name string) (*artifact.Artifact, error) {
	entry, err := c.Resolve(ctx, name)
	if err != nil || entry == nil {
		return nil, err
	}
	a, err := c.Fetch(ctx, entry.Digest)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("hub indexes %q as %s but has no such artifact", name, entry.Digest.Short())
	}
	return a, nil
}

// Push uploads an artifact under name and returns the hub's entry,
// whose digest is the durable identifier.
func (c *Client) Push(ctx context.Context, name string, a *artifact.Artifact) (*Entry, error) {
	path := "/v1/artifacts?name=" + url.QueryEscape(name)
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(a.Bytes()), string(a.Digest))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}
	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	if entry.Digest != a.Digest {
		return nil, fmt.Errorf("hub stored %s but we pushed %s", entry.Digest.Short(), a.Digest.Short())
	}
	return &entry, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, digest string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build hub request: %w", err)
	}
	if digest != "" {
		req.Header.Set(DigestHeader, digest)
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request failed: %w", err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("hub returned %d", resp.StatusCode)
}
