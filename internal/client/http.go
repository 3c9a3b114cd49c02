package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/presence"
)

// HTTPClient implements ChatClient using the chatd HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	user       string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g.
// "http://localhost:8080"). When token is non-empty, an Authorization header
// is set on every request. user is sent as the caller identity.
func NewHTTPClient(baseURL, token, user string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		user:       user,
		httpClient: &http.Client{},
	}
}

var _ ChatClient = (*HTTPClient)(nil)

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Messages ---

func (c *HTTPClient) CreateMessage(ctx context.Context, groupID, content string) (*model.Message, error) {
	body := map[string]string{"content": content}
	var msg model.Message
	path := "/v1/groups/" + url.PathEscape(groupID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) UpdateMessage(ctx context.Context, id, content string) (*model.Message, error) {
	body := map[string]string{"content": content}
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/messages/"+url.PathEscape(id), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil, nil)
}

// --- Reactions and receipts ---

func (c *HTTPClient) AddReaction(ctx context.Context, messageID, emoji string) (*model.Reaction, error) {
	body := map[string]string{"emoji": emoji}
	var reaction model.Reaction
	path := "/v1/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &reaction); err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "/v1/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) NotifyTyping(ctx context.Context, groupID string, typing bool) error {
	body := map[string]bool{"typing": typing}
	path := "/v1/groups/" + url.PathEscape(groupID) + "/typing"
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) MarkRead(ctx context.Context, groupID, messageID string) error {
	body := map[string]string{"message_id": messageID}
	path := "/v1/groups/" + url.PathEscape(groupID) + "/read"
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// --- Membership ---

func (c *HTTPClient) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var resp struct {
		Members []string `json:"members"`
	}
	path := "/v1/groups/" + url.PathEscape(groupID) + "/members"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *HTTPClient) AddMember(ctx context.Context, groupID, userID string) error {
	path := "/v1/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(userID)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

func (c *HTTPClient) RemoveMember(ctx context.Context, groupID, userID string) error {
	path := "/v1/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(userID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Presence ---

func (c *HTTPClient) Presence(ctx context.Context) ([]*presence.Record, error) {
	var resp struct {
		Users []*presence.Record `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/presence", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *HTTPClient) PresenceUser(ctx context.Context, userID string) (*presence.Record, error) {
	var record presence.Record
	if err := c.doJSON(ctx, http.MethodGet, "/v1/presence/"+url.PathEscape(userID), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *HTTPClient) GroupOnline(ctx context.Context, groupID string) ([]string, error) {
	var resp struct {
		Online []string `json:"online"`
	}
	path := "/v1/groups/" + url.PathEscape(groupID) + "/online"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Online, nil
}

// --- Subscriptions ---

func (c *HTTPClient) Subscribe(ctx context.Context, connID, groupID string) error {
	path := "/v1/connections/" + url.PathEscape(connID) + "/groups/" + url.PathEscape(groupID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPClient) Unsubscribe(ctx context.Context, connID, groupID string) error {
	path := "/v1/connections/" + url.PathEscape(connID) + "/groups/" + url.PathEscape(groupID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- Live stream ---

// Stream opens the SSE endpoint and returns a channel of decoded frames plus
// a cancel function. The channel closes when the server ends the stream, the
// context is cancelled, or cancel is called.
func (c *HTTPClient) Stream(ctx context.Context, groups []string) (<-chan StreamEvent, context.CancelFunc, error) {
	path := "/v1/stream"
	if len(groups) > 0 {
		q := url.Values{}
		q.Set("groups", strings.Join(groups, ","))
		path += "?" + q.Encode()
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		readSSE(resp.Body, ch)
	}()

	return ch, cancel, nil
}

// readSSE parses id/event/data frames and sends them on ch. Comment lines
// (keepalives) are ignored.
func readSSE(r io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var seq uint64
	var eventName string
	var data []byte

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				dispatchFrame(ch, seq, eventName, data)
			}
			seq, eventName, data = 0, "", nil
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "id:"):
			seq, _ = strconv.ParseUint(strings.TrimSpace(line[3:]), 10, 64)
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[5:])...)
		}
	}
}

func dispatchFrame(ch chan<- StreamEvent, seq uint64, eventName string, data []byte) {
	if eventName == "connected" {
		var hello struct {
			ConnectionID string `json:"connection_id"`
		}
		if json.Unmarshal(data, &hello) == nil {
			ch <- StreamEvent{ConnectionID: hello.ConnectionID}
		}
		return
	}
	e, err := events.Decode(data)
	if err != nil {
		return
	}
	ch <- StreamEvent{Seq: seq, Event: e}
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		req.Header.Set("X-Chat-User", c.user)
	}
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// JSON response. If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// Success with no body.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
