package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStore talks to a go-melody server's /artifacts endpoints.
type HTTPStore struct {
	base   string
	client *http.Client
}

// NewHTTPStore creates a store rooted at base (e.g. "http://localhost:5000").
func NewHTTPStore(base string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{base: strings.TrimRight(base, "/"), client: client}
}

// URL resolves a ref against the server. Absolute URLs pass through.
func (s *HTTPStore) URL(ref Ref) string {
	r := string(ref)
	if strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://") {
		return r
	}
	if strings.HasPrefix(r, "/") {
		return s.base + r
	}
	return s.base + "/artifacts/" + r
}

func (s *HTTPStore) Save(ctx context.Context, name string, data []byte) (Ref, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	ref := Ref("/artifacts/" + name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.URL(ref), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("put %s: %s", name, resp.Status)
	}
	return ref, nil
}

func (s *HTTPStore) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("get %s: %s", ref, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}
