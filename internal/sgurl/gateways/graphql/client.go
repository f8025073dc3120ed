package graphql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/haukened/sgurl/internal/sgurl/common/log"
	"github.com/haukened/sgurl/internal/sgurl/domain"
	"github.com/haukened/sgurl/internal/sgurl/services/resolver"
)

// Error message constants for consistent error handling
const (
	errRequestFailed  = "request %s: %w"
	errBadStatus      = "%s returned HTTP %d"
	errDecodeFailed   = "decode response from %s: %w"
	errGraphQL        = "graphql errors from %s: %s"
	errMissingPayload = "empty data in response from %s"
)

var (
	// ErrEndpointUnreachable means the URL does not answer like a Sourcegraph instance.
	ErrEndpointUnreachable = errors.New("incorrect Sourcegraph instance address")
	// ErrEndpointAuth means the instance answered but rejected the credentials.
	ErrEndpointAuth = errors.New("authentication to Sourcegraph failed")
)

const (
	resolveRepoQuery = `query ResolveRawRepoName($repoName: String!) {
	repository(name: $repoName) {
		mirrorInfo {
			cloned
		}
	}
}`

	siteQuery = `query SiteProductVersion {
	site {
		productVersion
	}
}`
)

// Client talks to the GraphQL API of Sourcegraph instances. One Client serves every endpoint;
// the target instance is chosen per call.
type Client struct {
	http   *resty.Client
	logger log.Logger
}

// Options configures a Client.
type Options struct {
	// Token is sent as "Authorization: token <Token>" when non-empty.
	Token string
	// Timeout bounds each HTTP request. Zero leaves it to the caller's context.
	Timeout time.Duration
	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// Transport replaces the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	Logger    log.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	logger := log.OrNoop(opts.Logger)
	ua := opts.UserAgent
	if ua == "" {
		ua = "sgurl"
	}

	hc := resty.New().
		SetHeader("User-Agent", ua).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Requested-With", "Sourcegraph").
		SetTimeout(opts.Timeout).
		SetLogger(restyLogger{logger})
	if token := strings.TrimSpace(opts.Token); token != "" {
		hc.SetHeader("Authorization", "token "+token)
	}
	if opts.Transport != nil {
		hc.SetTransport(opts.Transport)
	}
	return &Client{http: hc, logger: logger}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type response[T any] struct {
	Data   *T         `json:"data"`
	Errors []gqlError `json:"errors"`
}

type resolveRepoData struct {
	Repository *struct {
		MirrorInfo *struct {
			Cloned bool `json:"cloned"`
		} `json:"mirrorInfo"`
	} `json:"repository"`
}

type siteData struct {
	Site *struct {
		ProductVersion string `json:"productVersion"`
	} `json:"site"`
}

// Probe reports whether repo is mirrored (cloned) on the instance at endpoint.
// An unknown repository is (false, nil); transport, HTTP and GraphQL errors are returned as errors.
func (c *Client) Probe(ctx context.Context, endpoint domain.Endpoint, repo string) (bool, error) {
	var out response[resolveRepoData]
	if _, err := c.post(ctx, endpoint, "ResolveRawRepoName", request{
		Query:     resolveRepoQuery,
		Variables: map[string]any{"repoName": repo},
	}, &out); err != nil {
		return false, err
	}
	data, err := dataOrErrors(endpoint, out)
	if err != nil {
		return false, err
	}
	cloned := data.Repository != nil && data.Repository.MirrorInfo != nil && data.Repository.MirrorInfo.Cloned
	c.logger.Debug(map[string]any{"endpoint": endpoint, "repo": repo, "cloned": cloned}, "probe_done")
	return cloned, nil
}

// CheckEndpoint verifies that endpoint is a reachable Sourcegraph instance that accepts
// the configured credentials. Failures wrap ErrEndpointUnreachable or ErrEndpointAuth.
func (c *Client) CheckEndpoint(ctx context.Context, endpoint domain.Endpoint) (string, error) {
	var out response[siteData]
	status, err := c.post(ctx, endpoint, "SiteProductVersion", request{Query: siteQuery, Variables: map[string]any{}}, &out)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", fmt.Errorf("%w: %v", ErrEndpointAuth, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}
	data, err := dataOrErrors(endpoint, out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}
	if data.Site == nil {
		return "", fmt.Errorf("%w: %s did not report a site", ErrEndpointUnreachable, endpoint)
	}
	return data.Site.ProductVersion, nil
}

// post sends req to endpoint and decodes a 2xx JSON body into out. It returns the HTTP
// status (0 when no response was received) alongside any error.
func (c *Client) post(ctx context.Context, endpoint domain.Endpoint, operation string, req request, out any) (int, error) {
	url := string(endpoint) + "/.api/graphql?" + operation

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		ForceContentType("application/json").
		Post(url)
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	if err != nil {
		if resp != nil && resp.IsSuccess() {
			return status, fmt.Errorf(errDecodeFailed, endpoint, err)
		}
		return status, fmt.Errorf(errRequestFailed, url, err)
	}
	if !resp.IsSuccess() {
		return status, fmt.Errorf(errBadStatus, endpoint, status)
	}
	return status, nil
}

// dataOrErrors turns GraphQL-level errors into a Go error.
func dataOrErrors[T any](endpoint domain.Endpoint, r response[T]) (T, error) {
	var zero T
	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}
		return zero, fmt.Errorf(errGraphQL, endpoint, strings.Join(msgs, "; "))
	}
	if r.Data == nil {
		return zero, fmt.Errorf(errMissingPayload, endpoint)
	}
	return *r.Data, nil
}

// restyLogger routes resty's internal messages through a log.Logger.
type restyLogger struct{ l log.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(nil, fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(nil, fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(nil, fmt.Sprintf(format, v...)) }

var _ resolver.Prober = (*Client)(nil)
