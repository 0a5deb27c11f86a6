package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL    = "https://graph.instagram.com"
	defaultAPIVersion = "v21.0"
	defaultTimeout    = 10 * time.Second
)

// Client is an Instagram Graph API client for DM messaging
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a new Instagram API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send failure classification. The dispatcher keys its retry policy off
// these sentinels.
var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrAuthExpired      = errors.New("access token expired or revoked")
	ErrTransient        = errors.New("transient send failure")
)

// APIError represents an error from the Instagram API
type APIError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`

	httpStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instagram API error: %s (code: %d, subcode: %d)", e.Message, e.Code, e.ErrorSubcode)
}

// Unwrap maps the API error onto a classification sentinel
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == 190 || e.httpStatus == http.StatusUnauthorized || e.httpStatus == http.StatusForbidden:
		return ErrAuthExpired
	case e.Code == 4 || e.Code == 613 || e.httpStatus == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code == 551 || (e.Code == 100 && e.ErrorSubcode == 2534014):
		return ErrInvalidRecipient
	case e.httpStatus >= 500:
		return ErrTransient
	}
	return ErrTransient
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// SendMessageInput represents input for sending a DM
type SendMessageInput struct {
	IGUserID    string // the business account's Instagram user id
	AccessToken string
	RecipientID string
	Text        string
}

// SendMessageOutput represents output from sending a DM
type SendMessageOutput struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type sendMessageRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage sends a text DM to a user via the Graph messaging API
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, in.IGUserID)

	params := url.Values{}
	params.Set("access_token", in.AccessToken)

	var payload sendMessageRequest
	payload.Recipient.ID = in.RecipientID
	payload.Message.Text = in.Text

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out SendMessageOutput
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable
		return fmt.Errorf("executing request: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			apiErr := &APIError{Message: string(body), httpStatus: resp.StatusCode}
			return fmt.Errorf("instagram API returned %d: %w", resp.StatusCode, apiErr)
		}
		errResp.Error.httpStatus = resp.StatusCode
		return &errResp.Error
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
