package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/kchat/internal/events"
)

// sseFrame is one parsed frame from the stream.
type sseFrame struct {
	id    string
	event string
	data  string
}

// readFrames parses SSE frames off the response body and sends them on the
// returned channel until the body closes.
func readFrames(t *testing.T, body *bufio.Reader) <-chan sseFrame {
	t.Helper()
	ch := make(chan sseFrame, 16)
	go func() {
		defer close(ch)
		var f sseFrame
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if f.data != "" {
					ch <- f
				}
				f = sseFrame{}
			case strings.HasPrefix(line, "id:"):
				f.id = strings.TrimSpace(line[3:])
			case strings.HasPrefix(line, "event:"):
				f.event = strings.TrimSpace(line[6:])
			case strings.HasPrefix(line, "data:"):
				f.data = strings.TrimSpace(line[5:])
			}
		}
	}()
	return ch
}

func waitFrame(t *testing.T, ch <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("stream closed before expected frame")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE frame")
	}
	return sseFrame{}
}

func TestStream_HelloAndEventDelivery(t *testing.T) {
	s, st := newTestServer(t)
	st.addMember("g1", "alice")

	ts := httptest.NewServer(s.NewHTTPHandler(""))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/stream?groups=g1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Chat-User", "alice")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	frames := readFrames(t, bufio.NewReader(resp.Body))

	// First frame announces the connection.
	hello := waitFrame(t, frames)
	if hello.event != "connected" {
		t.Fatalf("first frame event = %q, want connected", hello.event)
	}
	var helloData struct {
		ConnectionID string   `json:"connection_id"`
		UserID       string   `json:"user_id"`
		Groups       []string `json:"groups"`
	}
	if err := json.Unmarshal([]byte(hello.data), &helloData); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if helloData.ConnectionID == "" || helloData.UserID != "alice" {
		t.Fatalf("hello = %+v", helloData)
	}
	if len(helloData.Groups) != 1 || helloData.Groups[0] != "g1" {
		t.Fatalf("hello groups = %v, want [g1]", helloData.Groups)
	}

	// Dispatch an event; it must arrive as a sequenced frame.
	s.Manager().Dispatch(context.Background(), &events.Event{
		Kind:     events.KindNewMessage,
		GroupID:  "g1",
		Payload:  json.RawMessage(`{"id":"m1","sender":"bob"}`),
		OriginTS: time.Now().UTC(),
	})

	frame := waitFrame(t, frames)
	if frame.event != string(events.KindNewMessage) {
		t.Fatalf("frame event = %q, want new_message", frame.event)
	}
	if frame.id != "1" {
		t.Errorf("frame id = %q, want 1", frame.id)
	}
	var e events.Event
	if err := json.Unmarshal([]byte(frame.data), &e); err != nil {
		t.Fatalf("unmarshal frame data: %v", err)
	}
	if e.GroupID != "g1" {
		t.Errorf("event group = %q, want g1", e.GroupID)
	}
}

func TestStream_RequiresIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.NewHTTPHandler(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStream_DisconnectGoesOffline(t *testing.T) {
	s, st := newTestServer(t)
	st.addMember("g1", "alice")

	ts := httptest.NewServer(s.NewHTTPHandler(""))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/stream?groups=g1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Chat-User", "alice")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	frames := readFrames(t, bufio.NewReader(resp.Body))
	waitFrame(t, frames) // hello

	if !s.Manager().Online("alice") {
		t.Fatal("alice should be online while the stream is open")
	}

	// Drop the client; the deferred unregister marks alice offline.
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.Manager().Online("alice") {
		if time.Now().After(deadline) {
			t.Fatal("alice still online after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
