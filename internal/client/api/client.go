package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iudanet/edusession/pkg/api"
)

// DefaultTimeout таймаут HTTP клиента по умолчанию
const DefaultTimeout = 30 * time.Second

// Client представляет HTTP клиент шлюза аутентификации
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option настраивает Client
type Option func(*Client)

// WithHTTPClient подменяет http.Client (например, в тестах или с собственным транспортом)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout задает таймаут запросов. Переданный через WithHTTPClient
// клиент не меняется: таймаут ставится на его копию.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError ответ шлюза с кодом вне 2xx
type StatusError struct {
	Raw        string
	Body       api.ErrorResponse
	StatusCode int
}

func (e *StatusError) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = e.Body.Detail
	}
	if msg == "" {
		msg = e.Body.Error
	}
	if msg == "" {
		msg = e.Raw
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, msg)
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	if err := c.doRequest(ctx, http.MethodPost, api.PathLogin, req, &resp); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if resp.Tokens.Access == "" || resp.Tokens.Refresh == "" || resp.User.ID == "" {
		return nil, errors.New("login request failed: incomplete response")
	}
	return &resp, nil
}

// Refresh обменивает refresh token на новый access token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*api.RefreshResponse, error) {
	var resp api.RefreshResponse
	if err := c.doRequest(ctx, http.MethodPost, api.PathRefresh, api.RefreshRequest{Refresh: refreshToken}, &resp); err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if resp.Access == "" {
		return nil, errors.New("refresh request failed: empty access token")
	}
	return &resp, nil
}

// Logout отзывает refresh token на сервере
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if err := c.doRequest(ctx, http.MethodPost, api.PathLogout, api.LogoutRequest{Refresh: refreshToken}, nil); err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	return nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Raw: string(respBody)}
		// тело может быть не JSON (прокси, HTML страница ошибки)
		_ = json.Unmarshal(respBody, &statusErr.Body)
		return statusErr
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
