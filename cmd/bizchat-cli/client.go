package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"bizchat/stream"
)

// client talks to a running bizchat server the same way the browser does
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, httpClient *http.Client) *client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// send submits message and then streams the reply, calling fn for each event
func (c *client) send(ctx context.Context, message string, fn func(stream.Event) error) error {
	messageID, err := c.submit(ctx, message)
	if err != nil {
		return err
	}

	q := url.Values{"message_id": {messageID}, "user_message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream-response?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	return stream.Decode(resp.Body, fn)
}

func (c *client) submit(ctx context.Context, message string) (string, error) {
	form := url.Values{"message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_message", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var body struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode send_message response: %w", err)
	}
	if body.MessageID == "" {
		return "", fmt.Errorf("send_message returned no message_id")
	}
	return body.MessageID, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
