package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"newsdigest/internal/scheduler"
	"newsdigest/internal/server"
)

func TestSetRecipientsSendsBody(t *testing.T) {
	var got server.RecipientsRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/recipients" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		json.NewEncoder(w).Encode(server.RecipientsResponse{Recipients: got.Recipients, Message: "ok"})
	}))
	defer ts.Close()

	resp, err := New(ts.URL+"/").SetRecipients(context.Background(), []string{"a@example.com"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "a@example.com" {
		t.Errorf("Expected request recipients [a@example.com], got %v", got.Recipients)
	}
	if resp.Message != "ok" {
		t.Errorf("Expected message ok, got %q", resp.Message)
	}
}

func TestAPIErrorUsesServerMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(server.ErrorResponse{Error: server.ErrorBody{Status: 400, Message: "Invalid interval. Must be between 1 and 24 hours."}})
	}))
	defer ts.Close()

	_, err := New(ts.URL).SetInterval(context.Background(), 30)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Invalid interval. Must be between 1 and 24 hours." {
		t.Errorf("Unexpected message %q", apiErr.Message)
	}
}

func TestTriggerFailureKeepsResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(scheduler.TriggerResult{Success: false, Message: scheduler.ErrRunInProgress.Error()})
	}))
	defer ts.Close()

	res, err := New(ts.URL).Trigger(context.Background())
	if err == nil {
		t.Fatal("Expected error for 409 response")
	}
	if res.Message != scheduler.ErrRunInProgress.Error() {
		t.Errorf("Expected run-in-progress message, got %q", res.Message)
	}
}

func TestSystemLogsLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("Expected limit=5, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"id":"1","type":"info","message":"hello","details":null,"created_at":"2024-05-01T00:00:00Z"}]`))
	}))
	defer ts.Close()

	logs, err := New(ts.URL).SystemLogs(context.Background(), 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "hello" {
		t.Errorf("Unexpected logs %+v", logs)
	}
}

func TestUnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	if _, err := New(url).Health(context.Background()); err == nil {
		t.Error("Expected error for closed server")
	}
}
