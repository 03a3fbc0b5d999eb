package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrPermission = errors.New("notion access denied")

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion http %d: %s", e.StatusCode, e.Message)
}

type PermissionError struct {
	StatusCode int
	Message    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("notion access denied (http %d): %s", e.StatusCode, e.Message)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

// AccessTokenProvider resolves the integration token per call so a settings
// change takes effect without rebuilding the client.
type AccessTokenProvider func(ctx context.Context) (string, error)

type ClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	// RequestsPerSecond caps outbound calls; Notion allows roughly three.
	RequestsPerSecond float64
}

type Client struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	limiter       *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type database struct {
	ID         string                  `json:"id"`
	Title      []richText              `json:"title"`
	Properties map[string]propertyMeta `json:"properties"`
}

type propertyMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type page struct {
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	Archived       bool                       `json:"archived"`
	CreatedTime    time.Time                  `json:"created_time"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Properties     map[string]propertyPayload `json:"properties"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func (c *Client) retrieveDatabase(ctx context.Context, databaseID string) (database, error) {
	var out database
	err := c.doJSON(ctx, http.MethodGet, "/databases/"+databaseID, nil, &out)
	return out, err
}

func (c *Client) retrievePage(ctx context.Context, pageID string) (page, error) {
	var out page
	err := c.doJSON(ctx, http.MethodGet, "/pages/"+pageID, nil, &out)
	return out, err
}

// queryDatabase fetches one page of results. A non-zero since restricts the
// query to records edited on or after the watermark.
func (c *Client) queryDatabase(ctx context.Context, databaseID string, since time.Time, cursor string, pageSize int) (queryResponse, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	payload := map[string]any{"page_size": pageSize}
	if cursor != "" {
		payload["start_cursor"] = cursor
	}
	if !since.IsZero() {
		payload["filter"] = map[string]any{
			"timestamp": "last_edited_time",
			"last_edited_time": map[string]any{
				"on_or_after": since.UTC().Format(time.RFC3339),
			},
		}
	}
	payload["sorts"] = []map[string]any{
		{"timestamp": "last_edited_time", "direction": "ascending"},
	}
	var out queryResponse
	err := c.doJSON(ctx, http.MethodPost, "/databases/"+databaseID+"/query", payload, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if c == nil {
		return fmt.Errorf("notion client is nil")
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return fmt.Errorf("notion token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("notion token is empty")
	}
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &PermissionError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		code, message := errorFields(respBody)
		return &HTTPError{StatusCode: resp.StatusCode, Code: code, Message: message}
	}
}

func errorFields(respBody []byte) (string, string) {
	code := ""
	message := strings.TrimSpace(string(respBody))
	var parsed map[string]any
	if json.Unmarshal(respBody, &parsed) == nil {
		if value, ok := parsed["code"].(string); ok {
			code = value
		}
		if value, ok := parsed["message"].(string); ok && strings.TrimSpace(value) != "" {
			message = value
		}
	}
	return code, message
}

func errorMessage(respBody []byte) string {
	_, message := errorFields(respBody)
	return message
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
