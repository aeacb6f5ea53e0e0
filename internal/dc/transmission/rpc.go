package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const sessionHeader = "X-Transmission-Session-Id"

var errUnauthorized = errors.New("transmission: invalid credentials")

type rpcRequest struct {
	Method    string      `json:"method"`
	Arguments interface{} `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// rpcError is a well-formed answer whose result is not "success".
type rpcError struct {
	Method string
	Result string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("transmission %s: %s", e.Method, e.Result)
}

type idsArgs struct {
	IDs []string `json:"ids"`
}

type getArgs struct {
	IDs    []string `json:"ids"`
	Fields []string `json:"fields"`
}

type removeArgs struct {
	IDs             []string `json:"ids"`
	DeleteLocalData bool     `json:"delete-local-data"`
}

type addArgs struct {
	Filename    string `json:"filename,omitempty"`
	MetaInfo    string `json:"metainfo,omitempty"`
	DownloadDir string `json:"download-dir,omitempty"`
	Paused      bool   `json:"paused,omitempty"`
}

type addedTorrent struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString"`
}

type addResult struct {
	Added     *addedTorrent `json:"torrent-added"`
	Duplicate *addedTorrent `json:"torrent-duplicate"`
}

type rpcTorrent struct {
	HashString  string  `json:"hashString"`
	Name        string  `json:"name"`
	Status      int     `json:"status"`
	Error       int     `json:"error"`
	ErrorString string  `json:"errorString"`
	PercentDone float64 `json:"percentDone"`
}

type getResult struct {
	Torrents []rpcTorrent `json:"torrents"`
}

var torrentFields = []string{"hashString", "name", "status", "error", "errorString", "percentDone"}

// call performs one RPC round trip. A 409 answer carries a fresh session id; the
// request is replayed once with it. Callers must hold c.mu.
func (c *Client) call(ctx context.Context, method string, args, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusConflict {
		c.sessionID = resp.Header.Get(sessionHeader)
		drain(resp)

		if resp, err = c.post(ctx, body); err != nil {
			return err
		}
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return errUnauthorized
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("transmission %s: unexpected HTTP %d: %s", method, resp.StatusCode, bytes.TrimSpace(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if rpcResp.Result != "success" {
		return &rpcError{Method: method, Result: rpcResp.Result}
	}

	if out == nil || len(rpcResp.Arguments) == 0 {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
		return fmt.Errorf("failed to decode %s arguments: %w", method, err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}

	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	return c.httpClient.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
