package rest

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

	"festchat/pkg/api"
)

const defaultTimeout = 15 * time.Second

// TokenSource supplies the bearer token for requests and performs the
// single refresh cycle a 401 is allowed before failing.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) error
}

// Client talks to the festival chat backend. It implements the directory's
// ChatBackend and the store's MessageBackend.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	now    func() time.Time
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		now:    time.Now,
	}
}

func (c *Client) ListChats(ctx context.Context) ([]api.Conversation, error) {
	var records []conversationRecord
	if err := c.call(ctx, http.MethodGet, "/chats", nil, &records); err != nil {
		return nil, err
	}
	return c.normalizeConversations(records), nil
}

func (c *Client) CreateChat(ctx context.Context, newConversation api.NewConversation) (api.Conversation, error) {
	var record conversationRecord
	if err := c.call(ctx, http.MethodPost, "/chats", newConversation, &record); err != nil {
		return api.Conversation{}, err
	}
	return record.normalize(c.now()), nil
}

func (c *Client) JoinChat(ctx context.Context, conversationId string) (api.Conversation, error) {
	var record conversationRecord
	path := "/chats/" + url.PathEscape(conversationId) + "/join"
	if err := c.call(ctx, http.MethodPost, path, struct{}{}, &record); err != nil {
		return api.Conversation{}, err
	}
	return record.normalize(c.now()), nil
}

func (c *Client) JoinChatByName(ctx context.Context, name string) (api.Conversation, error) {
	var record conversationRecord
	body := map[string]string{"chatName": name}
	if err := c.call(ctx, http.MethodPost, "/chats/join-by-name", body, &record); err != nil {
		return api.Conversation{}, err
	}
	return record.normalize(c.now()), nil
}

func (c *Client) SearchChatsByName(ctx context.Context, query string) ([]api.Conversation, error) {
	var records []conversationRecord
	path := "/chats/search-by-name?q=" + url.QueryEscape(query)
	if err := c.call(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return c.normalizeConversations(records), nil
}

func (c *Client) ListMessages(ctx context.Context, conversationId string) ([]api.Message, error) {
	var records []messageRecord
	if err := c.call(ctx, http.MethodGet, "/messages/"+url.PathEscape(conversationId), nil, &records); err != nil {
		return nil, err
	}
	messages := make([]api.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.normalize(conversationId, c.now()))
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationId string, draft api.Draft) (api.Message, error) {
	var record messageRecord
	if err := c.call(ctx, http.MethodPost, "/messages/"+url.PathEscape(conversationId), draft, &record); err != nil {
		return api.Message{}, err
	}
	return record.normalize(conversationId, c.now()), nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageId string) error {
	return c.call(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageId), nil, nil)
}

func (c *Client) ReactToMessage(ctx context.Context, messageId string, reaction string) (api.Message, error) {
	var record messageRecord
	body := map[string]string{"reaction": reaction}
	if err := c.call(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageId)+"/react", body, &record); err != nil {
		return api.Message{}, err
	}
	return record.normalize("", c.now()), nil
}

func (c *Client) MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) error {
	body := map[string][]string{"messageIds": messageIds}
	return c.call(ctx, http.MethodPut, "/messages/"+url.PathEscape(conversationId)+"/read", body, nil)
}

func (c *Client) normalizeConversations(records []conversationRecord) []api.Conversation {
	now := c.now()
	conversations := make([]api.Conversation, 0, len(records))
	for _, r := range records {
		conversations = append(conversations, r.normalize(now))
	}
	return conversations
}

// call runs one authenticated request. A 401 triggers exactly one token
// refresh and retry; transport failures and timeouts surface as
// NetworkError so optimistic state is never left hanging as sending.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	op := fmt.Sprintf("%s %s", method, path)

	status, err := c.roundTrip(ctx, method, path, body, out)
	if err != nil {
		return api.NewError(api.KindNetworkError, op, err)
	}
	if status == http.StatusUnauthorized && c.tokens != nil {
		if err := c.tokens.Refresh(ctx); err != nil {
			return api.NewError(api.KindAuthenticationRequired, op, err)
		}
		status, err = c.roundTrip(ctx, method, path, body, out)
		if err != nil {
			return api.NewError(api.KindNetworkError, op, err)
		}
	}
	if kind := kindForStatus(status); kind != "" {
		return api.Errorf(kind, op, "backend returned %d", status)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	if out == nil {
		return resp.StatusCode, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "reading response body")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, errors.Wrap(err, "decoding response body")
	}
	return resp.StatusCode, nil
}

func kindForStatus(status int) api.Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized:
		return api.KindAuthenticationRequired
	case status == http.StatusForbidden:
		return api.KindForbidden
	case status == http.StatusNotFound:
		return api.KindNotFound
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return api.KindInvalidPayload
	case status >= 500:
		return api.KindServerError
	default:
		return api.KindUnknown
	}
}
