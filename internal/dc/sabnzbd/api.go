package sabnzbd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// apiError is a well-formed answer carrying status false.
type apiError struct {
	Mode    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("sabnzbd %s: %s", e.Mode, e.Message)
}

type statusResponse struct {
	Status *bool  `json:"status"`
	Error  string `json:"error"`
}

type addResponse struct {
	statusResponse
	NzoIDs []string `json:"nzo_ids"`
}

type versionResponse struct {
	statusResponse
	Version string `json:"version"`
}

type queueSlot struct {
	NzoID    string `json:"nzo_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

type queueResponse struct {
	statusResponse
	Queue struct {
		Slots []queueSlot `json:"slots"`
	} `json:"queue"`
}

type historySlot struct {
	NzoID       string `json:"nzo_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	FailMessage string `json:"fail_message"`
}

type historyResponse struct {
	statusResponse
	History struct {
		Slots []historySlot `json:"slots"`
	} `json:"history"`
}

func (r statusResponse) err(mode string) error {
	if r.Error != "" || (r.Status != nil && !*r.Status) {
		msg := r.Error
		if msg == "" {
			msg = "request refused"
		}

		return &apiError{Mode: mode, Message: msg}
	}

	return nil
}

// get calls the API with mode and params and decodes the answer into out.
func (c *Client) get(ctx context.Context, mode string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(mode, params), nil)
	if err != nil {
		return err
	}

	return c.do(req, mode, out)
}

// upload posts an NZB document as the "name" form file.
func (c *Client) upload(ctx context.Context, filename string, raw []byte, params url.Values, out interface{}) error {
	var body bytes.Buffer

	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("name", filename)
	if err != nil {
		return err
	}

	if _, err := part.Write(raw); err != nil {
		return err
	}

	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("addfile", params), &body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, "addfile", out)
}

func (c *Client) do(req *http.Request, mode string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("sabnzbd %s: unexpected HTTP %d: %s", mode, resp.StatusCode, bytes.TrimSpace(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", mode, err)
	}

	return nil
}

func (c *Client) url(mode string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}

	q.Set("mode", mode)
	q.Set("output", "json")
	q.Set("apikey", c.cfg.APIKey)

	return c.endpoint + "?" + q.Encode()
}
