package detector

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/example/dxscan/internal/gitcli"
)

// ServiceType identifies the hosting service behind a scan target.
type ServiceType string

const (
	ServiceNone      ServiceType = "none"
	ServiceGitHub    ServiceType = "github"
	ServiceBitbucket ServiceType = "bitbucket"
	ServiceGit       ServiceType = "git"
)

// ScanTarget is the resolved form of the scan path or URL.
type ScanTarget struct {
	// Raw is the string the user supplied.
	Raw string `json:"raw"`
	// Path is the absolute directory for local targets.
	Path         string      `json:"path,omitempty"`
	Local        bool        `json:"local"`
	Service      ServiceType `json:"service"`
	Owner        string      `json:"owner,omitempty"`
	Repo         string      `json:"repo,omitempty"`
	RemoteURL    string      `json:"remoteUrl,omitempty"`
	AuthRequired bool        `json:"authRequired,omitempty"`
}

// IsRemote reports whether the target has to be read through a hosting
// service or a clone rather than the local disk.
func (t ScanTarget) IsRemote() bool {
	return !t.Local && t.Service != ServiceNone
}

// Slug returns "owner/repo" when both are known.
func (t ScanTarget) Slug() string {
	if t.Owner == "" || t.Repo == "" {
		return ""
	}
	return t.Owner + "/" + t.Repo
}

func (t ScanTarget) String() string {
	switch {
	case t.Local:
		return t.Path
	case t.Slug() != "":
		return fmt.Sprintf("%s:%s", t.Service, t.Slug())
	case t.RemoteURL != "":
		return t.RemoteURL
	default:
		return t.Raw
	}
}

var (
	githubPattern    = regexp.MustCompile(`^(?:(?:https?|ssh)://)?(?:[^@/\s]+@)?(?:www\.)?github\.com[:/]([\w.-]+)/([\w.-]+?)(?:\.git)?(?:/.*)?$`)
	bitbucketPattern = regexp.MustCompile(`^(?:(?:https?|ssh)://)?(?:[^@/\s]+@)?(?:www\.)?bitbucket\.org[:/]([\w.-]+)/([\w.-]+?)(?:\.git)?(?:/.*)?$`)
	gitURLPattern    = regexp.MustCompile(`^(?:(?:https?://|[\w-]+(?:\.[\w-]+)+/)\S+\.git/?|(?:ssh|git)://\S+|[\w.-]+@[\w.-]+:\S+)$`)
)

// Detector resolves scan targets. The zero value is not usable; build one with New.
type Detector struct {
	git    gitcli.Runner
	client *http.Client
	// webBase overrides the public web origin per service.
	webBase map[ServiceType]string
}

// New returns a detector. git may be nil, in which case local targets are
// not inspected for a remote.
func New(git gitcli.Runner, client *http.Client) *Detector {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Detector{
		git:    git,
		client: client,
		webBase: map[ServiceType]string{
			ServiceGitHub:    "https://github.com",
			ServiceBitbucket: "https://bitbucket.org",
		},
	}
}

// Detect classifies input. An existing local path wins over a matching
// remote pattern. Unrecognized input yields ServiceNone rather than an error.
// The only I/O is a stat of input and, for local targets, reading the
// origin remote.
func (d *Detector) Detect(ctx context.Context, input string) ScanTarget {
	raw := strings.TrimSpace(input)
	if raw == "" {
		raw = "."
	}
	target := ScanTarget{Raw: raw, Service: ServiceNone}

	if info, err := os.Stat(raw); err == nil && info.IsDir() {
		abs, err := filepath.Abs(raw)
		if err != nil {
			abs = raw
		}
		target.Local = true
		target.Path = abs
		if d.git != nil {
			if remote, err := d.git.RemoteURL(ctx, abs, "origin"); err == nil && remote != "" {
				r := ParseRemote(remote)
				target.Service, target.Owner, target.Repo, target.RemoteURL = r.Service, r.Owner, r.Repo, r.RemoteURL
			}
		}
		return target
	}

	r := ParseRemote(raw)
	r.Raw = raw
	return r
}

// ParseRemote classifies a remote URL or shorthand without touching the
// file system.
func ParseRemote(raw string) ScanTarget {
	raw = strings.TrimSpace(raw)
	target := ScanTarget{Raw: raw, Service: ServiceNone}
	if m := githubPattern.FindStringSubmatch(raw); m != nil {
		target.Service, target.Owner, target.Repo = ServiceGitHub, m[1], m[2]
		target.RemoteURL = fmt.Sprintf("https://github.com/%s/%s.git", m[1], m[2])
		return target
	}
	if m := bitbucketPattern.FindStringSubmatch(raw); m != nil {
		target.Service, target.Owner, target.Repo = ServiceBitbucket, m[1], m[2]
		target.RemoteURL = fmt.Sprintf("https://bitbucket.org/%s/%s.git", m[1], m[2])
		return target
	}
	if gitURLPattern.MatchString(raw) {
		target.Service = ServiceGit
		target.RemoteURL = raw
		if !strings.Contains(raw, "://") && !strings.Contains(raw, "@") {
			target.RemoteURL = normalizeTargetURL(raw)
		}
	}
	return target
}
