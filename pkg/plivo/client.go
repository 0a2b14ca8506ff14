// Package plivo lists inbound SMS through the Plivo REST API.
package plivo

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

const (
	ProviderName = "plivo"

	// queryTimeLayout is the format accepted by message_time__gte.
	queryTimeLayout = "2006-01-02 15:04:05"
)

// Plivo reports message_time in a few shapes depending on API version.
var messageTimeLayouts = []string{
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999Z07:00",
	time.RFC3339Nano,
	queryTimeLayout,
}

type Config struct {
	BaseURL   string
	AuthID    string
	AuthToken string
	PageSize  int
}

type Client struct {
	baseURL   string
	authID    string
	authToken string
	pageSize  int
	client    *http.Client
	logger    *logrus.Logger
}

type messageList struct {
	Objects []message `json:"objects"`
}

type message struct {
	MessageUUID      string `json:"message_uuid"`
	FromNumber       string `json:"from_number"`
	Src              string `json:"src"`
	ToNumber         string `json:"to_number"`
	Text             string `json:"text"`
	MessageTime      string `json:"message_time"`
	MessageDirection string `json:"message_direction"`
}

type apiError struct {
	APIID string `json:"api_id"`
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
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		authID:    cfg.AuthID,
		authToken: cfg.AuthToken,
		pageSize:  cfg.PageSize,
		client:    httpClient,
		logger:    logger,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

func (c *Client) accountURL() string {
	return fmt.Sprintf("%s/v1/Account/%s/", c.baseURL, url.PathEscape(c.authID))
}

func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, c.accountURL())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListMessages returns inbound messages to destination received at or after since.
func (c *Client) ListMessages(ctx context.Context, destination string, since time.Time) ([]source.RawMessage, error) {
	query := url.Values{}
	query.Set("message_direction", "inbound")
	query.Set("to_number", strings.TrimPrefix(destination, "+"))
	query.Set("message_time__gte", since.UTC().Format(queryTimeLayout))
	query.Set("limit", fmt.Sprintf("%d", c.pageSize))

	endpoint := c.accountURL() + "Message/?" + query.Encode()

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"since":    since.UTC().Format(time.RFC3339),
	}).Debug("Listing Plivo messages")

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list messageList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &source.Error{Provider: ProviderName, StatusCode: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}

	result := make([]source.RawMessage, 0, len(list.Objects))
	for _, msg := range list.Objects {
		from := msg.FromNumber
		if from == "" {
			from = msg.Src
		}

		raw := source.RawMessage{
			ProviderID: msg.MessageUUID,
			From:       withPlus(from),
			Body:       msg.Text,
		}
		if msg.MessageTime != "" {
			if sent, ok := parseMessageTime(msg.MessageTime); ok {
				raw.SentAt = &sent
			} else {
				c.logger.WithField("message_uuid", msg.MessageUUID).Warn("Unparseable Plivo message_time")
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
	req.SetBasicAuth(c.authID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &source.Error{Provider: ProviderName, Message: "request failed", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))

		srcErr := &source.Error{Provider: ProviderName, StatusCode: resp.StatusCode}
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			srcErr.Message = apiErr.Error
		} else {
			srcErr.Message = strings.TrimSpace(string(body))
		}
		return nil, srcErr
	}
	return resp, nil
}

func parseMessageTime(value string) (time.Time, bool) {
	for _, layout := range messageTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// withPlus turns Plivo's bare-digit numbers into E.164.
func withPlus(number string) string {
	if number == "" || strings.HasPrefix(number, "+") {
		return number
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return number
		}
	}
	return "+" + number
}
