// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conveyor-ci/conveyor/lib/run"
)

// Uploader delivers one artifact's content to an external store. The
// engine treats delivery as best-effort: an error becomes a summary
// warning, nothing more.
type Uploader interface {
	Upload(ctx context.Context, runID, identity string, ref run.ArtifactRef, content io.Reader) error
}

// NullUploader discards artifacts. Used when no upload endpoint is
// configured.
type NullUploader struct{}

// Upload discards the content.
func (NullUploader) Upload(ctx context.Context, runID, identity string, ref run.ArtifactRef, content io.Reader) error {
	return nil
}

// HTTPUploader posts artifact bytes to a fixed endpoint with a bearer
// token. The artifact's coordinates travel as query parameters so the
// body stays the raw content:
//
//	POST <endpoint>?run=<runID>&identity=<identity>&name=<name>
type HTTPUploader struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPUploader returns an uploader posting to endpoint. The token
// is sent as a bearer Authorization header; empty means no header. A
// nil client uses one with a 60 second timeout.
func NewHTTPUploader(endpoint, token string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPUploader{endpoint: endpoint, token: token, client: client}
}

// Upload posts the artifact content. Any non-2xx response is an
// error.
func (u *HTTPUploader) Upload(ctx context.Context, runID, identity string, ref run.ArtifactRef, content io.Reader) error {
	query := url.Values{}
	query.Set("run", runID)
	query.Set("name", ref.Name)
	if identity != "" {
		query.Set("identity", identity)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint+"?"+query.Encode(), content)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	if u.token != "" {
		request.Header.Set("Authorization", "Bearer "+u.token)
	}

	response, err := u.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("upload endpoint returned %s", response.Status)
	}
	return nil
}
