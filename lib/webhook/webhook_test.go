// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/testutil"
)

// stubSubmitter records submitted events and returns canned
// submissions.
type stubSubmitter struct {
	events      []event.Event
	submissions []engine.Submission
	err         error
}

func (s *stubSubmitter) SubmitEvent(ctx context.Context, ev event.Event) ([]engine.Submission, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	return s.submissions, nil
}

const pushPayload = `{
	"ref": "refs/heads/main",
	"after": "aaaabbbbccccddddeeeeffff0000111122223333",
	"repository": {"full_name": "acme/widgets"},
	"commits": [{"added": ["lib/widgets.go"], "modified": [], "removed": []}]
}`

// sign produces the X-Hub-Signature-256 header value for body.
func sign(secret []byte, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliver posts one webhook delivery to the handler and returns the
// recorded response.
func deliver(t *testing.T, h http.Handler, eventName, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	request.Header.Set("X-GitHub-Event", eventName)
	if signature != "" {
		request.Header.Set("X-Hub-Signature-256", signature)
	}
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, request)
	return recorder
}

func newTestHandler(submitter *stubSubmitter, secret []byte) http.Handler {
	return NewHandler(HandlerConfig{
		Submitter: submitter,
		Secret:    secret,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestDeliveryAccepted(t *testing.T) {
	secret := []byte("shared-secret")
	submitter := &stubSubmitter{
		submissions: []engine.Submission{
			{Workflow: "ci", Accepted: true, RunID: "run-1"},
			{Workflow: "nightly", Accepted: false, Reason: "no push trigger"},
		},
	}
	h := newTestHandler(submitter, secret)

	recorder := deliver(t, h, "push", pushPayload, sign(secret, pushPayload))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", recorder.Code, http.StatusAccepted, recorder.Body)
	}

	var response deliveryResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Event != "push" {
		t.Errorf("response event = %q, want push", response.Event)
	}
	if len(response.Submissions) != 2 {
		t.Fatalf("got %d submissions, want 2", len(response.Submissions))
	}
	if response.Submissions[0].RunID != "run-1" {
		t.Errorf("submission run ID = %q, want run-1", response.Submissions[0].RunID)
	}

	if len(submitter.events) != 1 {
		t.Fatalf("submitter received %d events, want 1", len(submitter.events))
	}
	ev := submitter.events[0]
	if ev.Kind != event.Push || ev.Branch != "main" {
		t.Errorf("submitted event = %v, want push on main", ev)
	}
	if ev.Repository != "acme/widgets" {
		t.Errorf("repository = %q, want acme/widgets", ev.Repository)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestBadSignatureRejected(t *testing.T) {
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, []byte("shared-secret"))

	recorder := deliver(t, h, "push", pushPayload, sign([]byte("wrong-secret"), pushPayload))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusForbidden)
	}
	if len(submitter.events) != 0 {
		t.Error("forged delivery reached the submitter")
	}
	if strings.Contains(recorder.Body.String(), "sha256=") {
		t.Error("response leaks signature material")
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, []byte("shared-secret"))

	recorder := deliver(t, h, "push", pushPayload, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusForbidden)
	}
	if len(submitter.events) != 0 {
		t.Error("unsigned delivery reached the submitter")
	}
}

func TestNoSecretSkipsVerification(t *testing.T) {
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, nil)

	recorder := deliver(t, h, "push", pushPayload, "")
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", recorder.Code, http.StatusAccepted, recorder.Body)
	}
	if len(submitter.events) != 1 {
		t.Fatalf("submitter received %d events, want 1", len(submitter.events))
	}
}

func TestIgnoredDeliveryAcknowledged(t *testing.T) {
	secret := []byte("shared-secret")
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, secret)

	body := `{"zen": "keep it simple"}`
	recorder := deliver(t, h, "ping", body, sign(secret, body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var response errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Ignored == "" {
		t.Error("ignored delivery response missing reason")
	}
	if len(submitter.events) != 0 {
		t.Error("ignored delivery reached the submitter")
	}
}

func TestTagPushIgnored(t *testing.T) {
	secret := []byte("shared-secret")
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, secret)

	body := `{"ref": "refs/tags/v1.0.0", "after": "aaaabbbb", "repository": {"full_name": "acme/widgets"}}`
	recorder := deliver(t, h, "push", body, sign(secret, body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", recorder.Code, http.StatusOK, recorder.Body)
	}
	if len(submitter.events) != 0 {
		t.Error("tag push reached the submitter")
	}
}

func TestUnsupportedEventRejected(t *testing.T) {
	secret := []byte("shared-secret")
	submitter := &stubSubmitter{}
	h := newTestHandler(submitter, secret)

	body := `{"action": "opened"}`
	recorder := deliver(t, h, "issues", body, sign(secret, body))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	if len(submitter.events) != 0 {
		t.Error("unsupported delivery reached the submitter")
	}
}

func TestSubmissionFailureReports500(t *testing.T) {
	secret := []byte("shared-secret")
	submitter := &stubSubmitter{err: errors.New("engine not started")}
	h := newTestHandler(submitter, secret)

	recorder := deliver(t, h, "push", pushPayload, sign(secret, pushPayload))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(&stubSubmitter{}, nil)

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if got := recorder.Body.String(); got != "ok\n" {
		t.Errorf("body = %q, want ok", got)
	}
}

func TestServerLifecycle(t *testing.T) {
	submitter := &stubSubmitter{}
	server := NewServer(ServerConfig{
		Address: "127.0.0.1:0",
		Handler: newTestHandler(submitter, nil),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	testutil.RequireClosed(t, server.Ready(), 10*time.Second, "server did not bind")

	url := fmt.Sprintf("http://%s/healthz", server.Addr())
	response, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, body %q", response.StatusCode, body)
	}

	cancel()
	err = testutil.RequireReceive(t, serveDone, 10*time.Second, "server did not shut down")
	if err != nil {
		t.Fatalf("Serve returned %v, want nil on graceful shutdown", err)
	}
}
