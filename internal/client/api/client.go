// Package api is the backend HTTP client. Every call goes through one
// pipeline that attaches the bearer token and, on a 401, refreshes the
// session once and reissues the request once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the backend used when none is configured.
const DefaultBaseURL = "http://localhost:8080/api"

const (
	refreshPath = "/auth/refresh"
	// maxErrorBody caps how much of an error body is kept in HTTPError.
	maxErrorBody = 4 << 10
)

// TokenStore is the part of the session manager the pipeline needs.
type TokenStore interface {
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	SaveTokensWithExpiry(ctx context.Context, access, refresh string) error
	ClearAuth(ctx context.Context)
}

// validator is implemented by response contracts that check their own shape.
type validator interface {
	Validate() error
}

// Client is the shared request pipeline.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	log     *zap.Logger

	refreshes singleflight.Group

	Auth     *AuthAPI
	Products *ProductsAPI
	Orders   *OrdersAPI
	Users    *UsersAPI
}

// New returns a Client for baseURL. A nil httpClient means a client with
// DefaultTimeout.
func New(baseURL string, httpClient *http.Client, tokens TokenStore, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		log:     log,
	}
	c.Auth = &AuthAPI{c: c}
	c.Products = &ProductsAPI{c: c}
	c.Orders = &OrdersAPI{c: c}
	c.Users = &UsersAPI{c: c}
	return c
}

// request is one logical call. It is immutable once built so a retry
// reissues exactly the same call.
type request struct {
	method    string
	path      string
	query     url.Values
	body      []byte
	header    http.Header
	requestID string
}

// RequestOption customizes a single call.
type RequestOption func(*request)

// WithQuery adds query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *request) { r.query = q }
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *request) { r.header.Set(key, value) }
}

// Do sends method path with in encoded as JSON (nil for no body) and decodes
// a 2xx response into out (nil to discard).
func (c *Client) Do(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	req := &request{
		method:    method,
		path:      path,
		header:    make(http.Header),
		requestID: uuid.NewString(),
	}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.body = b
	}
	for _, o := range opts {
		o(req)
	}
	return c.send(ctx, req, out, 0)
}

// send issues req. attempt is 0 for the first try and 1 for the single
// retry after a refresh.
func (c *Client) send(ctx context.Context, req *request, out any, attempt int) error {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return err
	}
	if token := c.tokens.AccessToken(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
		original := readHTTPError(resp, req)
		if rerr := c.refresh(ctx); rerr != nil {
			c.log.Warn("session refresh failed, clearing session",
				zap.String("path", req.path),
				zap.String("request_id", req.requestID),
				zap.Error(rerr))
			c.tokens.ClearAuth(ctx)
			return original
		}
		c.log.Debug("session refreshed, retrying request",
			zap.String("path", req.path),
			zap.String("request_id", req.requestID))
		return c.send(ctx, req, out, attempt+1)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp, req)
	}
	return decode(resp, req.method+" "+req.path, out)
}

func (c *Client) build(ctx context.Context, req *request) (*http.Request, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.method, req.path, err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Request-ID", req.requestID)
	return httpReq, nil
}

// refresh exchanges the stored refresh token for a new pair. It bypasses
// the pipeline so a failing refresh can never trigger another refresh.
// Concurrent callers share one exchange.
func (c *Client) refresh(ctx context.Context) error {
	_, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		refreshToken := c.tokens.RefreshToken(ctx)
		if refreshToken == "" {
			return nil, errors.New("no refresh token")
		}
		b, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
		if err != nil {
			return nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+refreshToken)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, readHTTPError(resp, &request{method: http.MethodPost, path: refreshPath})
		}

		var out RefreshResponse
		if err := decode(resp, "POST "+refreshPath, &out); err != nil {
			return nil, err
		}
		return nil, c.tokens.SaveTokensWithExpiry(ctx, out.AccessToken, out.RefreshToken)
	})
	return err
}

func readHTTPError(resp *http.Response, req *request) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Method:     req.method,
		Path:       req.path,
		Body:       strings.TrimSpace(string(body)),
	}
}

func decode(resp *http.Response, endpoint string, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Endpoint: endpoint, Err: err}
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return &MalformedResponseError{Endpoint: endpoint, Err: err}
		}
	}
	return nil
}
