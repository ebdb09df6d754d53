// Package postmark is the mail-sending capability, implemented against the
// Postmark REST API. The client never retries; callers decide from the
// returned *appErrors.TransportError whether a retry makes sense.
package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
)

const tokenHeader = "X-Postmark-Server-Token"

// Postmark API error codes that stop every further call from succeeding.
var criticalCodes = map[int]bool{
	10:   true, // bad or missing server token
	400:  true, // sender signature not found
	401:  true, // sender signature not confirmed
	405:  true, // not allowed to send
	412:  true, // account pending approval
	1235: true, // message stream not found
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a Postmark server API client
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
}

// NewClient creates a Postmark client. A nil httpClient gets a default with a 30s timeout.
func NewClient(baseURL, token string, httpClient HTTPDoer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type emailRequest struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	MessageStream string `json:"MessageStream,omitempty"`
	TrackOpens    bool   `json:"TrackOpens"`
	TrackLinks    string `json:"TrackLinks,omitempty"`
}

type apiResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// FormatFrom renders a From header, "Name <address>" when a name is set.
func FormatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// Send submits one email and returns the provider message ID. A 200 reply
// without an ID still means Postmark accepted the email, so it returns an
// empty ID and no error; retrying would send a duplicate.
func (c *Client) Send(ctx context.Context, email model.OutboundEmail) (string, error) {
	payload := emailRequest{
		From:          email.From,
		To:            email.To,
		Subject:       email.Subject,
		HtmlBody:      email.HTMLBody,
		MessageStream: email.MessageStream,
		TrackOpens:    email.TrackOpens,
	}
	if email.TrackLinks {
		payload.TrackLinks = "HtmlAndText"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", appErrors.NewTransportError(appErrors.TransportPermanent, 0, 0, "encode email", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/email", body)
	if err != nil {
		return "", err
	}
	if resp.MessageID == "" {
		logger.L().Warn("postmark accepted email without a MessageID", logger.Email("to", email.To))
	}
	return resp.MessageID, nil
}

// TestConnection checks the token against the server endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/server", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, appErrors.NewTransportError(appErrors.TransportPermanent, 0, 0, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, appErrors.NewTransportError(appErrors.TransportTransient, 0, 0, "executing request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.NewTransportError(appErrors.TransportTransient, resp.StatusCode, 0, "reading response", err)
	}

	var parsed apiResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
			return nil, appErrors.NewTransportError(appErrors.TransportTransient, resp.StatusCode, 0, "decoding response", err)
		}
	}

	if resp.StatusCode == http.StatusOK && parsed.ErrorCode == 0 {
		return &parsed, nil
	}
	msg := parsed.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return nil, appErrors.NewTransportError(Classify(resp.StatusCode, parsed.ErrorCode), resp.StatusCode, parsed.ErrorCode, msg, nil)
}

// Classify maps an HTTP status and Postmark error code to a transport error kind.
func Classify(status, errorCode int) appErrors.TransportKind {
	switch {
	case status == http.StatusUnauthorized || criticalCodes[errorCode]:
		return appErrors.TransportCritical
	case status == http.StatusTooManyRequests || status >= 500:
		return appErrors.TransportTransient
	default:
		return appErrors.TransportPermanent
	}
}
