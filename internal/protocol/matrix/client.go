package matrix

import (
	"beacon_p2p/internal/model"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const apiPrefix = "/_matrix/client/r0"

// pollSlack is added to the long-poll timeout for the HTTP deadline.
const pollSlack = 10 * time.Second

// Client talks to one relay node. Timeout bounds every request except the
// long poll, which carries its own deadline.
type Client struct {
	Base    string
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Base: base, HTTP: httpClient}
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// NodeURL is the base URL of node for scheme.
func NodeURL(scheme, node string) string {
	return scheme + "://" + node
}

func (c *Client) Versions(ctx context.Context) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var out VersionsResponse
	return c.do(ctx, http.MethodGet, "/_matrix/client/versions", "", nil, &out)
}

// Login exchanges credentials for an access token. A relay refusing the
// credentials yields model.ErrAuthentication.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (LoginResponse, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, apiPrefix+"/login", "", LoginRequest{
		Type:       "m.login.password",
		Identifier: UserIdentifier{Type: "m.id.user", User: creds.User},
		Password:   creds.Password,
		DeviceID:   creds.DeviceID,
	}, &out)
	var re *model.RelayError
	if errors.As(err, &re) && (re.Status == http.StatusUnauthorized || re.Status == http.StatusForbidden) {
		return out, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}
	return out, err
}

// Sync long-polls for events after since. The HTTP deadline is timeout plus
// a fixed slack.
func (c *Client) Sync(ctx context.Context, token, since string, timeout time.Duration) (SyncResponse, error) {
	q := url.Values{"timeout": []string{strconv.FormatInt(timeout.Milliseconds(), 10)}}
	if since != "" {
		q.Set("since", since)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+pollSlack)
	defer cancel()

	var out SyncResponse
	err := c.do(ctx, http.MethodGet, apiPrefix+"/sync?"+q.Encode(), token, nil, &out)
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, token string, req CreateRoomRequest) (string, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var out CreateRoomResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/createRoom", token, req, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

func (c *Client) Join(ctx context.Context, token, roomID string) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var out JoinResponse
	return c.do(ctx, http.MethodPost, apiPrefix+"/rooms/"+url.PathEscape(roomID)+"/join", token, struct{}{}, &out)
}

func (c *Client) Send(ctx context.Context, token, roomID, txnID, body string) (string, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var out SendResponse
	path := apiPrefix + "/rooms/" + url.PathEscape(roomID) + "/send/" + EventTypeMessage + "/" + url.PathEscape(txnID)
	if err := c.do(ctx, http.MethodPut, path, token, TextContent{MsgType: MsgTypeText, Body: body}, &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		re := &model.RelayError{Status: resp.StatusCode, Message: resp.Status}
		var er ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.ErrCode != "" {
			re.ErrCode, re.Message = er.ErrCode, er.Error
		}
		return re
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
