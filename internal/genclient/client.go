package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"metagen/server/internal/model"
	"metagen/server/internal/provider"
	"metagen/server/internal/upload"
)

// Client talks to a metagen server. It satisfies provider.Generator, so a
// local orchestrator can drive remote generation.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) { c.token = token }

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *wireError      `json:"error"`
	TraceID string          `json:"trace_id"`
}

type wireError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
}

var _ provider.Generator = (*Client)(nil)

func (c *Client) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	var out model.ThumbnailResult
	err := c.postJSON(ctx, "/api/v1/thumbnails/generate", req, &out)
	return out, err
}

func (c *Client) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	var out model.ThumbnailResult
	err := c.postJSON(ctx, "/api/v1/thumbnails/regenerate", req, &out)
	return out, err
}

func (c *Client) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	var out model.DescriptionResult
	err := c.postJSON(ctx, "/api/v1/metadata/description", req, &out)
	return out, err
}

func (c *Client) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	var out model.TagsResult
	err := c.postJSON(ctx, "/api/v1/metadata/tags", req, &out)
	return out, err
}

type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

// Login authenticates and keeps the access token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	err := c.postJSON(ctx, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return LoginResult{}, err
	}
	c.token = out.AccessToken
	return out, nil
}

// UploadFile sends path as the multipart field "file".
func (c *Client) UploadFile(ctx context.Context, path string) (upload.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return upload.Response{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return upload.Response{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return upload.Response{}, err
	}
	if err := mw.Close(); err != nil {
		return upload.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", &body)
	if err != nil {
		return upload.Response{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out upload.Response
	err = c.do(req, &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return provider.Unavailable("Could not reach the generation service")
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return provider.Upstream(fmt.Sprintf("Unexpected response (status %d)", resp.StatusCode), err)
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		return decodeError(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return provider.Upstream("Malformed response data", err)
	}
	return nil
}

// decodeError rebuilds the error contract from a failed response. The server
// message is surfaced unchanged.
func decodeError(status int, we *wireError) error {
	if we == nil {
		return &provider.Error{
			Code:      provider.CodeServer,
			Status:    status,
			Message:   http.StatusText(status),
			Retryable: status >= 500,
		}
	}
	pe := &provider.Error{
		Code:      we.Code,
		Status:    status,
		Message:   we.Message,
		Retryable: we.Retryable,
	}
	if raw, ok := we.Details["issues"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field, _ := m["field"].(string)
			msg, _ := m["message"].(string)
			pe.Issues = append(pe.Issues, provider.Issue{Field: field, Message: msg})
		}
	}
	return pe
}
