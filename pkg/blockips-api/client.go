package blockipsAPI

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"blockips/api/types"
	"blockips/constant"
)

const OperatorHeader = "X-Operator-ID"

type Client struct {
	client  *http.Client
	baseURL string
}

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon replied %d: %s", e.StatusCode, e.Message)
}

func (c Client) do(ctx context.Context, method, path string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request failed: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e types.ErrorRes
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response failed: %w", err)
	}
	return nil
}

func operatorHeader(operatorID int64) http.Header {
	header := http.Header{}
	header.Set(OperatorHeader, strconv.FormatInt(operatorID, 10))
	return header
}

func (c Client) Execute(ctx context.Context, operatorID int64, command string) (types.CommandRes, error) {
	var res types.CommandRes
	err := c.do(ctx, http.MethodPost, "/api/v1/commands/"+url.PathEscape(command), operatorHeader(operatorID), &res)
	return res, err
}

func (c Client) State(ctx context.Context, operatorID int64) (types.StateRes, error) {
	var res types.StateRes
	err := c.do(ctx, http.MethodGet, "/api/v1/system/state", operatorHeader(operatorID), &res)
	return res, err
}

func (c Client) Logs(ctx context.Context, operatorID int64, level string, limit int) (types.LogsRes, error) {
	var res types.LogsRes
	q := url.Values{}
	if level != "" {
		q.Set("level", level)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/system/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, operatorHeader(operatorID), &res)
	return res, err
}

// IsUnauthorized reports whether err is the daemon rejecting the operator.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// NewClient talks to the daemon over its UNIX socket.
func NewClient() Client {
	return NewSocketClient(constant.SocketPath)
}

func NewSocketClient(socketPath string) Client {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return Client{client: client, baseURL: "http://unix"}
}

// NewHTTPClient talks to the daemon's TCP listener, e.g. http://127.0.0.1:8089.
func NewHTTPClient(baseURL string) Client {
	return Client{client: http.DefaultClient, baseURL: baseURL}
}
