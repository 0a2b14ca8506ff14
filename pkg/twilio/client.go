// Package twilio lists inbound SMS through the Twilio REST API.
package twilio

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
	ProviderName = "twilio"

	apiVersion = "2010-04-01"
	// errAuthenticate is returned by Twilio for bad credentials.
	errAuthenticate = 20003
)

// Config holds the account credentials and API location
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	PageSize   int
}

type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	pageSize   int
	client     *http.Client
	logger     *logrus.Logger
}

type messageList struct {
	Messages []message `json:"messages"`
}

type message struct {
	SID       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	DateSent  string `json:"date_sent"`
	Direction string `json:"direction"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
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
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		pageSize:   cfg.PageSize,
		client:     httpClient,
		logger:     logger,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

// TestConnection fetches the account resource.
func (c *Client) TestConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s/Accounts/%s.json", c.baseURL, apiVersion, url.PathEscape(c.accountSID))
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListMessages returns inbound messages to destination sent at or after since.
// Twilio filters DateSent by day, so older messages of the same day are dropped here.
func (c *Client) ListMessages(ctx context.Context, destination string, since time.Time) ([]source.RawMessage, error) {
	query := url.Values{}
	query.Set("To", destination)
	query.Set("DateSent>", since.UTC().Format("2006-01-02"))
	query.Set("PageSize", fmt.Sprintf("%d", c.pageSize))

	endpoint := fmt.Sprintf("%s/%s/Accounts/%s/Messages.json?%s", c.baseURL, apiVersion, url.PathEscape(c.accountSID), query.Encode())

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"since":    since.UTC().Format(time.RFC3339),
	}).Debug("Listing Twilio messages")

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
		if msg.Direction != "" && msg.Direction != "inbound" {
			continue
		}

		raw := source.RawMessage{
			ProviderID: msg.SID,
			From:       msg.From,
			Body:       msg.Body,
		}
		if msg.DateSent != "" {
			sent, err := time.Parse(time.RFC1123Z, msg.DateSent)
			if err != nil {
				c.logger.WithError(err).WithField("sid", msg.SID).Warn("Unparseable Twilio date_sent")
			} else {
				if sent.Before(since) {
					continue
				}
				raw.SentAt = &sent
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
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &source.Error{Provider: ProviderName, Message: "request failed", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))

	srcErr := &source.Error{Provider: ProviderName, StatusCode: resp.StatusCode}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Code != 0 || apiErr.Message != "") {
		srcErr.Code = apiErr.Code
		srcErr.Message = apiErr.Message
		srcErr.Auth = apiErr.Code == errAuthenticate
	} else {
		srcErr.Message = strings.TrimSpace(string(body))
	}
	return srcErr
}
