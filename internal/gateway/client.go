// Package gateway предоставляет клиент удалённого API бронирования авиабилетов.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Credentials предоставляет токен доступа и реагирует на отказ в аутентификации.
type Credentials interface {
	Token(ctx context.Context) (string, bool)
	Reject(ctx context.Context)
}

// Observer получает сведения о каждом вызове удалённого API.
type Observer interface {
	ObserveCall(op string, statusCode int, elapsed time.Duration)
}

// Client инкапсулирует HTTP-взаимодействие с удалённым API. Безопасен для параллельного использования.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	observer   Observer
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithObserver задаёт наблюдателя за вызовами.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient создаёт HTTP-клиент для обращения к API по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As привязывает клиента к учётным данным сессии. creds может быть nil для анонимных запросов.
func (c *Client) As(creds Credentials) *API {
	return &API{client: c, creds: creds}
}

// API выполняет операции удалённого API от имени одной сессии.
type API struct {
	client *Client
	creds  Credentials
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	accept string
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do выполняет запрос и классифицирует ответ. При успехе возвращает открытый ответ,
// который вызывающий обязан закрыть.
func (a *API) do(ctx context.Context, c call) (*http.Response, error) {
	if a.client.baseURL == "" {
		return nil, &RemoteError{Op: c.op, Err: fmt.Errorf("api client not configured")}
	}

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.op, err)
		}
		body = bytes.NewReader(payload)
	}

	u := a.client.baseURL + c.path
	if len(c.query) > 0 {
		u += "?" + c.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, c.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.op, err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if a.creds != nil {
		if token, ok := a.creds.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := a.client.httpClient.Do(req)
	if err != nil {
		a.client.observe(c.op, 0, time.Since(start))
		return nil, &RemoteError{Op: c.op, Err: err}
	}
	a.client.observe(c.op, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}
	defer resp.Body.Close()

	msg := readErrorMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		a.client.logger.Info("api rejected authentication", zap.String("op", c.op))
		if a.creds != nil {
			a.creds.Reject(ctx)
		}
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", c.op, ErrNotFound)
	}

	a.client.logger.Warn("api call failed",
		zap.String("op", c.op),
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg),
	)
	return nil, &RemoteError{Op: c.op, StatusCode: resp.StatusCode, Message: msg}
}

func (a *API) doJSON(ctx context.Context, c call, out any) error {
	resp, err := a.do(ctx, c)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: c.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) observe(op string, code int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCall(op, code, elapsed)
	}
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
