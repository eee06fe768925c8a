package licenseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/internal/metrics"
	"github.com/rcourtman/wplicense/pkg/tlsutil"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds every license server call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes     = 4 << 20
	maxErrorDetailLength = 512
	defaultUserAgent     = "wplicense-client"
)

// Config holds configuration for the license server client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	Fingerprint string // optional TLS pin for self-hosted servers
	Debug       bool   // log every call result
	Logger      zerolog.Logger
	HTTPClient  *http.Client // overrides the default transport when set
}

// Client sends actions to the license server.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	configErr  error
}

// New creates a new license server client. Configuration problems do not
// fail construction; they surface as an http_error on every call.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}

	baseURL, cfgErr := normalizeBaseURL(cfg.BaseURL)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.NewHTTPClient(tlsutil.ClientOptions{
			Timeout:     cfg.Timeout,
			Fingerprint: cfg.Fingerprint,
		})
	}

	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		configErr:  cfgErr,
	}
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call sends action with params and validates the reply. The returned error,
// when non-nil, is always an *errors.APIError; nothing panics on a bad reply.
func (c *Client) Call(ctx context.Context, action Action, params Params) (*Response, error) {
	start := time.Now()
	resp, err := c.call(ctx, action, params)

	outcome := "ok"
	if err != nil {
		outcome = string(lerrors.KindOf(err))
	}
	metrics.RecordAPIRequest(string(action), outcome, time.Since(start))
	c.logResult(action, params, resp, err, time.Since(start))

	return resp, err
}

func (c *Client) call(ctx context.Context, action Action, params Params) (*Response, error) {
	op := string(action)
	if c.configErr != nil {
		return nil, lerrors.NewAPIError(lerrors.KindHTTPError, op, "license server URL is not configured correctly", c.configErr)
	}
	if !action.Valid() {
		return nil, lerrors.NewAPIError(lerrors.KindInvalidAction, op, fmt.Sprintf("unknown action %q", action), nil)
	}

	req, err := c.newRequest(ctx, action, params)
	if err != nil {
		return nil, lerrors.NewAPIError(lerrors.KindHTTPError, op, "could not build license server request", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, lerrors.NewAPIError(lerrors.KindHTTPError, op, transportMessage(err), err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.cfg.Logger.Warn().Err(closeErr).Str("action", op).Msg("Failed to close license server response body")
		}
	}()

	return validateResponse(op, httpResp)
}

func (c *Client) newRequest(ctx context.Context, action Action, params Params) (*http.Request, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(string(action))

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	var (
		req *http.Request
		err error
	)
	if action.Method() == http.MethodGet {
		if encoded := values.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return req, nil
}

// validateResponse applies the fail-closed checks in order: status code
// presence, 400, 500, any other non-200, empty body, then JSON decoding.
func validateResponse(op string, httpResp *http.Response) (*Response, error) {
	if httpResp.StatusCode == 0 {
		return nil, lerrors.NewAPIError(lerrors.KindNoResponseCode, op, "license server response carried no status code", nil)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, lerrors.NewAPIError(lerrors.KindHTTPError, op, transportMessage(err), err).WithStatusCode(httpResp.StatusCode)
	}

	switch code := httpResp.StatusCode; {
	case code == http.StatusBadRequest:
		return nil, lerrors.NewAPIError(lerrors.KindValidationFailed, op, validationMessages(body), nil).WithStatusCode(code)
	case code == http.StatusInternalServerError:
		return nil, lerrors.NewAPIError(lerrors.KindInternalServerError, op, "license server reported an internal error", nil).WithStatusCode(code)
	case code != http.StatusOK:
		return nil, lerrors.NewAPIError(lerrors.KindUnexpectedResponseCode, op,
			fmt.Sprintf("license server responded with unexpected status %s", strconv.Itoa(code)), nil).WithStatusCode(code)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, lerrors.NewAPIError(lerrors.KindNoResponse, op, "license server returned an empty response", nil).WithStatusCode(http.StatusOK)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, lerrors.NewAPIError(lerrors.KindInvalidJSON, op, "license server returned malformed JSON", err).WithStatusCode(http.StatusOK)
	}
	resp.Raw = json.RawMessage(body)
	return &resp, nil
}

// validationMessages extracts field-level messages from a 400 body. Both the
// {"errors": {...}} and the WordPress REST {"data": {"params": {...}}} shapes
// are understood; keys are sorted so the joined text is stable.
func validationMessages(body []byte) string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err == nil {
		var messages []string
		if raw, ok := top["errors"]; ok {
			messages = append(messages, fieldMessages(raw)...)
		}
		if raw, ok := top["data"]; ok {
			var data struct {
				Params json.RawMessage `json:"params"`
			}
			if json.Unmarshal(raw, &data) == nil && len(data.Params) > 0 {
				messages = append(messages, fieldMessages(data.Params)...)
			}
		}
		if len(messages) > 0 {
			return strings.Join(messages, " ")
		}
		if raw, ok := top["message"]; ok {
			var msg Text
			if json.Unmarshal(raw, &msg) == nil && strings.TrimSpace(string(msg)) != "" {
				return strings.TrimSpace(string(msg))
			}
		}
	}

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return "license server rejected the request"
	}
	if len(detail) > maxErrorDetailLength {
		detail = detail[:maxErrorDetailLength]
	}
	return detail
}

func fieldMessages(raw json.RawMessage) []string {
	var byField map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byField); err == nil {
		keys := make([]string, 0, len(byField))
		for k := range byField {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []string
		for _, k := range keys {
			out = append(out, textValues(byField[k])...)
		}
		return out
	}
	return textValues(raw)
}

func textValues(raw json.RawMessage) []string {
	var list []Text
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s := strings.TrimSpace(string(v)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var single Text
	if err := json.Unmarshal(raw, &single); err == nil {
		if s := strings.TrimSpace(string(single)); s != "" {
			return []string{s}
		}
	}
	return nil
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "license server request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "license server request was canceled"
	}
	return err.Error()
}

func (c *Client) logResult(action Action, params Params, resp *Response, err error, elapsed time.Duration) {
	if !c.cfg.Debug {
		return
	}

	event := c.cfg.Logger.Debug().
		Str("action", string(action)).
		Str("method", action.Method()).
		Interface("params", params.Redacted()).
		Dur("elapsed", elapsed)

	if err != nil {
		event.Err(err).Str("kind", string(lerrors.KindOf(err))).Msg("License server call failed")
		return
	}
	event.Str("status", string(resp.Status)).Msg("License server call completed")
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("license server URL is empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid license server URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid license server URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", errors.New("invalid license server URL: missing host")
	}
	if parsed.User != nil {
		return "", errors.New("invalid license server URL: userinfo is not allowed")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", errors.New("invalid license server URL: query and fragment are not allowed")
	}

	return strings.TrimRight(parsed.String(), "/"), nil
}
