package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient starts an httptest server with the given handler and returns
// a client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHTTPClient(ts.URL, "test-token", "alice")
}

func TestCreateMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/groups/g1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Chat-User"); got != "alice" {
			t.Errorf("X-Chat-User = %q", got)
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"m1","group_id":"g1","sender":"alice","content":%q}`, body.Content)
	})

	msg, err := c.CreateMessage(context.Background(), "g1", "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m1" || msg.Content != "hello" {
		t.Errorf("message = %+v", msg)
	}
}

func TestGroupMembers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/groups/g1/members" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"group_id":"g1","members":["alice","bob"]}`)
	})

	members, err := c.GroupMembers(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GroupMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "alice" {
		t.Errorf("members = %v", members)
	}
}

func TestAddMember_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/groups/g1/members/bob" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.AddMember(context.Background(), "g1", "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
}

func TestPresenceUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_id":"bob","online":true,"connections":2}`)
	})

	record, err := c.PresenceUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("PresenceUser: %v", err)
	}
	if record.UserID != "bob" || !record.Online || record.Connections != 2 {
		t.Errorf("record = %+v", record)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"not a member of g1"}`)
	})

	_, err := c.CreateMessage(context.Background(), "g1", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "not a member of g1" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
}

func TestStream_ParsesFrames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("groups"); got != "g1,g2" {
			t.Errorf("groups = %q, want g1,g2", got)
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, "event:connected\ndata:{\"connection_id\":\"c1\",\"user_id\":\"alice\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, ":keepalive\n\n")
		flusher.Flush()
		fmt.Fprint(w, "id:1\nevent:new_message\ndata:{\"kind\":\"new_message\",\"group_id\":\"g1\",\"ts\":\"2026-08-28T10:00:00Z\"}\n\n")
		flusher.Flush()
	})

	ch, cancel, err := c.Stream(context.Background(), []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer cancel()

	select {
	case frame := <-ch:
		if frame.ConnectionID != "c1" {
			t.Errorf("connected frame = %+v, want connection c1", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected frame")
	}

	select {
	case frame := <-ch:
		if frame.Event == nil || frame.Event.GroupID != "g1" || frame.Seq != 1 {
			t.Errorf("event frame = %+v, want seq 1 in g1", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event frame")
	}
}

func TestStream_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"missing user identity"}`)
	})

	_, _, err := c.Stream(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for non-200 stream response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
}
