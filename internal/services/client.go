package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.postbridge.dev"
	codeAlreadyLinked  = "already_connected"
	MediaStatusReady   = "ready"
	MediaStatusFailed  = "failed"
	MediaStatusPending = "processing"
)

// ClientOption configures a [Client].
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	rps        float64
}

// WithHTTPClient sets the base client whose transport carries the authorized requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) ClientOption {
	return func(o *clientOptions) { o.rps = rps }
}

// Client is an authorized connection to the publishing API for a single key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	teamID string
}

// NewClient creates a client for key against baseURL.
func NewClient(baseURL, key string, opts ...ClientOption) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: api key is empty", shared.ErrMissingCredentials)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	o := clientOptions{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	limit := rate.Inf
	if o.rps > 0 {
		limit = rate.Limit(o.rps)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.httpClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: oauth2.NewClient(ctx, src),
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body io.Reader, contentType string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", shared.ErrAPIRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", shared.ErrAPIRequest, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if resp.StatusCode == http.StatusConflict && apiErr.Code == codeAlreadyLinked {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyConnected, apiErr.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%w: %s %s (status %d): %s", shared.ErrAPIRequest, method, endpoint, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: %s %s: status %d", shared.ErrAPIRequest, method, endpoint, resp.StatusCode)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, endpoint, body, contentType, result)
}

// TeamID returns the team behind the key, fetching it on first use.
func (c *Client) TeamID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.teamID != "" {
		return c.teamID, nil
	}

	var me struct {
		TeamID string `json:"team_id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/me", nil, &me); err != nil {
		return "", err
	}
	if me.TeamID == "" {
		return "", fmt.Errorf("%w: /v1/me returned no team id", shared.ErrAPIRequest)
	}
	c.teamID = me.TeamID
	return c.teamID, nil
}

func (c *Client) teamPath(ctx context.Context, format string, args ...any) (string, error) {
	team, err := c.TeamID(ctx)
	if err != nil {
		return "", err
	}
	return "/v1/teams/" + url.PathEscape(team) + fmt.Sprintf(format, args...), nil
}

// ConnectURL asks for an authorization URL that connects platform to the team.
//
// Returns [shared.ErrAlreadyConnected] when the team already has that platform connected.
func (c *Client) ConnectURL(ctx context.Context, platform models.Platform, redirect string) (string, error) {
	endpoint, err := c.teamPath(ctx, "/connections/%s", url.PathEscape(platform.String()))
	if err != nil {
		return "", err
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]string{"redirect_url": redirect}, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: connect response had no url", shared.ErrAPIRequest)
	}
	return resp.URL, nil
}

// Disconnect removes the team's connection to platform.
func (c *Client) Disconnect(ctx context.Context, platform models.Platform) error {
	endpoint, err := c.teamPath(ctx, "/connections/%s", url.PathEscape(platform.String()))
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ListAccounts returns every account connected to the team.
func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	endpoint, err := c.teamPath(ctx, "/accounts")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Accounts []models.Account `json:"accounts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// Media is an uploaded file as tracked by the API.
type Media struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// UploadMedia streams the file at path to the team's media library.
func (c *Client) UploadMedia(ctx context.Context, path string) (*Media, error) {
	endpoint, err := c.teamPath(ctx, "/media")
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var media Media
	if err := c.doRequest(ctx, http.MethodPost, endpoint, pr, mw.FormDataContentType(), &media); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	if media.ID == "" {
		return nil, fmt.Errorf("%w: upload response had no media id", shared.ErrAPIRequest)
	}
	return &media, nil
}

// MediaStatus reports the processing state of an uploaded file.
func (c *Client) MediaStatus(ctx context.Context, mediaID string) (*Media, error) {
	endpoint, err := c.teamPath(ctx, "/media/%s", url.PathEscape(mediaID))
	if err != nil {
		return nil, err
	}

	var media Media
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &media); err != nil {
		return nil, err
	}
	return &media, nil
}

// CreatePostRequest is the body of a post creation call.
type CreatePostRequest struct {
	AccountID   string     `json:"account_id"`
	MediaID     string     `json:"media_id"`
	Caption     string     `json:"caption"`
	Title       string     `json:"title,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Visibility  string     `json:"visibility,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Post is a created or scheduled post.
type Post struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreatePost publishes or schedules media on a connected account.
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	endpoint, err := c.teamPath(ctx, "/posts")
	if err != nil {
		return nil, err
	}

	var post Post
	if err := c.doJSON(ctx, http.MethodPost, endpoint, req, &post); err != nil {
		return nil, err
	}
	return &post, nil
}
