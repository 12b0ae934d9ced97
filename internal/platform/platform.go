// Package platform talks to the hosting services' REST APIs: creating a
// remote repository and checking that an access token is valid.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
)

// Kind identifies a hosting service
type Kind string

const (
	GitHub Kind = "github"
	GitLab Kind = "gitlab"
	Gitee  Kind = "gitee"
)

// ParseKind parses a service name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case GitHub, GitLab, Gitee:
		return k, nil
	}
	return "", fmt.Errorf("unknown platform %q (want github, gitlab or gitee)", s)
}

// DefaultBaseURLs are the public API endpoints
var DefaultBaseURLs = map[Kind]string{
	GitHub: "https://api.github.com",
	GitLab: "https://gitlab.com/api/v4",
	Gitee:  "https://gitee.com/api/v5",
}

var (
	// ErrInvalidToken is returned for a 401 response
	ErrInvalidToken = errors.New("token is invalid or expired, reconfigure it")

	// ErrNameTaken is returned when the repository name is already used
	ErrNameTaken = errors.New("repository name already exists")

	// ErrInvalidName is returned when the service rejects the repository name
	ErrInvalidName = errors.New("invalid repository name: use letters, digits, '-', '_' and '.'")
)

// APIError is a non-2xx response
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	body    []byte
	err     error
}

func (e *APIError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// CreateOptions describes a repository to create
type CreateOptions struct {
	Name        string
	Description string
	Private     bool
	AutoInit    bool
}

// Repository is a created remote repository
type Repository struct {
	URL    string `json:"url"`
	SSHURL string `json:"sshUrl"`
}

// Account is the owner of a verified token
type Account struct {
	Username string `json:"username"`
}

// Client calls the hosting APIs
type Client struct {
	http     *http.Client
	baseURLs map[Kind]string
	logger   *log.Logger
	maxTries uint
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the API endpoint of kind. An empty url keeps the default.
func WithBaseURL(kind Kind, url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURLs[kind] = strings.TrimRight(url, "/")
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxTries sets how many times a transient failure is attempted
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = max(n, 1) }
}

// New creates a Client
func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURLs: map[Kind]string{},
		logger:   log.New(os.Stderr, "[platform] ", log.LstdFlags),
		maxTries: 3,
	}
	for k, u := range DefaultBaseURLs {
		c.baseURLs[k] = u
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRepository creates a repository owned by the token's user
func (c *Client) CreateRepository(ctx context.Context, kind Kind, token string, opts CreateOptions) (Repository, error) {
	var (
		path string
		body map[string]any
		hdr  = c.authHeader(kind, token)
	)

	switch kind {
	case GitHub:
		path = "/user/repos"
		body = map[string]any{
			"name":        opts.Name,
			"description": opts.Description,
			"private":     opts.Private,
			"auto_init":   opts.AutoInit,
		}
	case GitLab:
		path = "/projects"
		visibility := "public"
		if opts.Private {
			visibility = "private"
		}
		body = map[string]any{
			"name":                   opts.Name,
			"description":            opts.Description,
			"visibility":             visibility,
			"initialize_with_readme": opts.AutoInit,
		}
	case Gitee:
		path = "/user/repos"
		body = map[string]any{
			"access_token": token,
			"name":         opts.Name,
			"description":  opts.Description,
			"private":      opts.Private,
			"auto_init":    opts.AutoInit,
		}
	default:
		return Repository{}, fmt.Errorf("unknown platform %q", kind)
	}

	data, err := c.do(ctx, kind, http.MethodPost, path, hdr, body)
	if err != nil {
		return Repository{}, createError(kind, opts.Name, err)
	}

	var repo Repository
	switch kind {
	case GitLab:
		repo.URL = gjson.GetBytes(data, "http_url_to_repo").String()
		repo.SSHURL = gjson.GetBytes(data, "ssh_url_to_repo").String()
	default:
		repo.URL = gjson.GetBytes(data, "clone_url").String()
		repo.SSHURL = gjson.GetBytes(data, "ssh_url").String()
		if repo.URL == "" {
			if html := gjson.GetBytes(data, "html_url").String(); html != "" {
				repo.URL = html + ".git"
			}
		}
	}
	c.logger.Printf("created %s repository %s", kind, opts.Name)
	return repo, nil
}

// VerifyToken checks token and returns the account it belongs to
func (c *Client) VerifyToken(ctx context.Context, kind Kind, token string) (Account, error) {
	path := "/user"
	if kind == Gitee {
		path += "?access_token=" + url.QueryEscape(token)
	}
	if _, ok := c.baseURLs[kind]; !ok {
		return Account{}, fmt.Errorf("unknown platform %q", kind)
	}

	data, err := c.do(ctx, kind, http.MethodGet, path, c.authHeader(kind, token), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			apiErr.err = ErrInvalidToken
		}
		return Account{}, err
	}

	field := "login"
	if kind == GitLab {
		field = "username"
	}
	return Account{Username: gjson.GetBytes(data, field).String()}, nil
}

func (c *Client) authHeader(kind Kind, token string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	switch kind {
	case GitHub:
		h.Set("Authorization", "Bearer "+token)
		h.Set("Accept", "application/vnd.github+json")
		h.Set("X-GitHub-Api-Version", "2022-11-28")
	case GitLab:
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// do sends one request, retrying network errors and 5xx responses with
// exponential backoff. It returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, kind Kind, method, path string, hdr http.Header, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	endpoint := c.baseURLs[kind] + path

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header = hdr.Clone()

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := &APIError{Kind: kind, Status: resp.StatusCode, Message: errorMessage(data, resp.StatusCode), body: data}
		if resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Printf("%s %s failed, retrying in %v: %v", method, path, wait, err)
		}),
	)
}

// errorMessage extracts the message of an error body. GitLab returns
// either a string or an object of field errors under "message".
func errorMessage(data []byte, status int) string {
	if !gjson.ValidBytes(data) {
		return http.StatusText(status)
	}
	for _, path := range []string{"errors.0.message", "message.name.0", "message", "error_description", "error"} {
		r := gjson.GetBytes(data, path)
		if r.Exists() && r.Type == gjson.String && r.String() != "" {
			msg := r.String()
			if path == "message.name.0" {
				msg = "name " + msg
			}
			if path == "errors.0.message" {
				if top := gjson.GetBytes(data, "message").String(); top != "" {
					msg = top + ": " + msg
				}
			}
			return msg
		}
	}
	if r := gjson.GetBytes(data, "message"); r.IsObject() {
		return r.Raw
	}
	return http.StatusText(status)
}

// createError maps a failed create to a friendly error
func createError(kind Kind, name string, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		apiErr.err = ErrInvalidToken
	case (apiErr.Status == http.StatusUnprocessableEntity || apiErr.Status == http.StatusBadRequest) &&
		(strings.Contains(msg, "already exists") || strings.Contains(msg, "already been taken") || strings.Contains(apiErr.Message, "已存在")):
		apiErr.err = fmt.Errorf("%w: %q", ErrNameTaken, name)
	case apiErr.Status == http.StatusUnprocessableEntity && invalidName(apiErr.body, msg):
		apiErr.err = fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return apiErr
}

func invalidName(body []byte, msg string) bool {
	if gjson.GetBytes(body, "errors.0.code").String() == "invalid" || gjson.GetBytes(body, "errors.0.field").String() == "name" {
		return true
	}
	return strings.Contains(msg, "is invalid")
}
