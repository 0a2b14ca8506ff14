// Package gateway lists inbound SMS from a self-hosted SMS gateway.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smsrelay/pkg/constants"
	"smsrelay/pkg/source"

	"github.com/sirupsen/logrus"
)

const ProviderName = "gateway"

// Gateways differ in how they render received_at.
var receivedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
}

type Client struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
	logger   *logrus.Logger
}

type messageList struct {
	Messages []message `json:"messages"`
}

type message struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Text       string `json:"text"`
	ReceivedAt string `json:"received_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	return NewClientWithLogger(cfg, httpClient, nil)
}

func NewClientWithLogger(cfg Config, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultPageSize
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: cfg.PageSize,
		client:   httpClient,
		logger:   logger,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/api/v1/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) ListMessages(ctx context.Context, destination string, since time.Time) ([]source.RawMessage, error) {
	query := url.Values{}
	query.Set("to", destination)
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", fmt.Sprintf("%d", c.pageSize))

	endpoint := c.baseURL + "/api/v1/messages?" + query.Encode()
	c.logger.WithField("endpoint", endpoint).Debug("Listing gateway messages")

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list messageList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &source.Error{Provider: ProviderName, StatusCode: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}

	result := make([]source.RawMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		raw := source.RawMessage{
			ProviderID: msg.ID,
			From:       msg.From,
			Body:       msg.Text,
		}
		if msg.ReceivedAt != "" {
			if received, ok := parseReceivedAt(msg.ReceivedAt); ok {
				raw.SentAt = &received
			} else {
				c.logger.WithField("id", msg.ID).Warn("Unparseable gateway received_at")
			}
		}
		result = append(result, raw)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &source.Error{Provider: ProviderName, Message: "request failed", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))

		srcErr := &source.Error{Provider: ProviderName, StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			srcErr.Message = er.Error
		} else {
			srcErr.Message = strings.TrimSpace(string(body))
		}
		return nil, srcErr
	}
	return resp, nil
}

func parseReceivedAt(value string) (time.Time, bool) {
	for _, layout := range receivedAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
