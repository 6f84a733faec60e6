package hosting

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/dxscan/internal/inspector"
)

const (
	// maxPages bounds pull request and commit history queries. File listings
	// are never capped.
	maxPages     = 5
	maxBodyBytes = 8 << 20
)

// Credential is the opaque token supplied by the user. "user:secret" is sent
// as basic auth, anything else as a bearer token.
type Credential string

func (c Credential) apply(req *http.Request) {
	if c == "" {
		return
	}
	token := string(c)
	if user, secret, ok := strings.Cut(token, ":"); ok {
		basic := base64.StdEncoding.EncodeToString([]byte(user + ":" + secret))
		req.Header.Set("Authorization", "Basic "+basic)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// transport holds the HTTP plumbing shared by the service clients.
type transport struct {
	http       *http.Client
	credential Credential
	userAgent  string
}

func newTransport(client *http.Client, cred Credential) transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return transport{http: client, credential: cred, userAgent: "dxscan"}
}

// scope tells classify how to interpret a 404.
type scope int

const (
	// repoScope calls address the repository itself: a 404 without a credential
	// usually means the repository is private.
	repoScope scope = iota
	// fileScope calls address a path inside the repository: a 404 means the path is absent.
	fileScope
)

func (t transport) get(ctx context.Context, url, accept string, sc scope) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", t.userAgent)
	t.credential.apply(req)

	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("GET %s: %v: %w", req.URL.Path, err, inspector.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %v: %w", req.URL.Path, err, inspector.ErrTransient)
	}
	if err := t.classify(resp, req.URL.Path, sc); err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func (t transport) getJSON(ctx context.Context, url string, sc scope, out any) error {
	body, _, err := t.get(ctx, url, "application/json", sc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// classify maps HTTP status codes onto the inspector error taxonomy.
func (t transport) classify(resp *http.Response, path string, sc scope) error {
	code := resp.StatusCode
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("GET %s: status %d: %w", path, code, inspector.ErrUnauthorized)
	case code == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			return fmt.Errorf("GET %s: rate limited: %w", path, inspector.ErrTransient)
		}
		return fmt.Errorf("GET %s: status %d: %w", path, code, inspector.ErrUnauthorized)
	case code == http.StatusNotFound:
		if sc == repoScope && t.credential == "" {
			return fmt.Errorf("GET %s: repository not visible without credentials: %w", path, inspector.ErrUnauthorized)
		}
		return fmt.Errorf("GET %s: %w", path, inspector.ErrNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("GET %s: status %d: %w", path, code, inspector.ErrTransient)
	default:
		return fmt.Errorf("GET %s: unexpected status %d", path, code)
	}
}

// IsAuthError reports whether err means the credential is missing or rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, inspector.ErrUnauthorized)
}

func childOf(dir, p string, recursive bool) bool {
	if dir != "" {
		if !strings.HasPrefix(p, dir+"/") {
			return false
		}
		p = strings.TrimPrefix(p, dir+"/")
	}
	if p == "" {
		return false
	}
	return recursive || !strings.Contains(p, "/")
}
