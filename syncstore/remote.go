package syncstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Remote is the shared database the mirror replicates to
type Remote interface {
	Push(ctx context.Context, key, value string) error
}

// HTTPRemote speaks the Realtime Database REST dialect: PUT {base}/{key}.json
type HTTPRemote struct {
	BaseURL string
	// Auth is appended as ?auth= when set
	Auth   string
	Client *http.Client
}

// NewHTTPRemote creates a remote rooted at baseURL
func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *HTTPRemote) endpoint(key string) string {
	u := fmt.Sprintf("%s/%s.json", r.BaseURL, url.PathEscape(key))
	if r.Auth != "" {
		u += "?auth=" + url.QueryEscape(r.Auth)
	}
	return u
}

func (r *HTTPRemote) Push(ctx context.Context, key, value string) error {
	body, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.endpoint(key), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "push %s", key)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("push %s: %s", key, resp.Status)
	}
	return nil
}
