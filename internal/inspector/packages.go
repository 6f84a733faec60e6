package inspector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

const (
	EcosystemNPM  = "npm"
	EcosystemGo   = "go"
	EcosystemPyPI = "pypi"
)

var (
	manifestPattern = regexp.MustCompile(`^(package\.json|go\.mod|requirements\.txt)$`)
	lockfilePattern = regexp.MustCompile(`^(package-lock\.json|npm-shrinkwrap\.json|yarn\.lock|pnpm-lock\.yaml|go\.sum|poetry\.lock|Pipfile\.lock|Cargo\.lock|composer\.lock|Gemfile\.lock)$`)
	requirementRx   = regexp.MustCompile(`^([A-Za-z0-9_.\-\[\]]+)\s*(?:(==|>=|<=|~=|!=|>|<)\s*([^\s;#,]+))?`)
)

// Packages parses the manifests surfaced by a FileInspector, so it works the
// same for local and remote components.
type Packages struct {
	files FileInspector
	memo  *memo
}

// NewPackages builds a package inspector on top of files.
func NewPackages(files FileInspector) *Packages {
	return &Packages{files: files, memo: newMemo(16)}
}

// Packages implements PackageInspector. Results are ordered by ecosystem then name.
func (p *Packages) Packages(ctx context.Context) ([]Package, error) {
	pkgs, err := memoize(ctx, p.memo, "packages", p.load)
	if err != nil {
		return nil, err
	}
	return slices.Clone(pkgs), nil
}

// HasLockfile implements PackageInspector.
func (p *Packages) HasLockfile(ctx context.Context) (bool, error) {
	return memoize(ctx, p.memo, "lockfile", func(ctx context.Context) (bool, error) {
		seq, err := p.files.ScanFor(ctx, lockfilePattern, "", ScanOptions{Shallow: true})
		if err != nil {
			return false, err
		}
		for range seq {
			return true, nil
		}
		return false, nil
	})
}

// PurgeCache implements PackageInspector.
func (p *Packages) PurgeCache() { p.memo.purge() }

func (p *Packages) load(ctx context.Context) ([]Package, error) {
	seq, err := p.files.ScanFor(ctx, manifestPattern, "", ScanOptions{Shallow: true})
	if err != nil {
		return nil, err
	}
	var out []Package
	for f := range seq {
		if f.IsDir {
			continue
		}
		data, err := p.files.ReadContent(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseManifest(f.Name, data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Path, err)
		}
		for i := range parsed {
			parsed[i].Manifest = f.Path
		}
		out = append(out, parsed...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ecosystem != out[j].Ecosystem {
			return out[i].Ecosystem < out[j].Ecosystem
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ParseManifest extracts declared dependencies from a manifest identified by its file name.
func ParseManifest(name string, data []byte) ([]Package, error) {
	switch name {
	case "package.json":
		return parsePackageJSON(data)
	case "go.mod":
		return parseGoMod(data)
	case "requirements.txt":
		return parseRequirements(data), nil
	default:
		return nil, fmt.Errorf("unsupported manifest %s", name)
	}
}

func parsePackageJSON(data []byte) ([]Package, error) {
	var raw struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var out []Package
	for name, version := range raw.Dependencies {
		out = append(out, Package{Name: name, Version: version, Ecosystem: EcosystemNPM})
	}
	for name, version := range raw.DevDependencies {
		out = append(out, Package{Name: name, Version: version, Ecosystem: EcosystemNPM, Dev: true})
	}
	return out, nil
}

func parseGoMod(data []byte) ([]Package, error) {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Package, 0, len(f.Require))
	for _, req := range f.Require {
		out = append(out, Package{Name: req.Mod.Path, Version: req.Mod.Version, Ecosystem: EcosystemGo})
	}
	return out, nil
}

func parseRequirements(data []byte) []Package {
	var out []Package
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := requirementRx.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		version := ""
		if m[2] != "" {
			version = m[2] + m[3]
			if m[2] == "==" {
				version = m[3]
			}
		}
		out = append(out, Package{Name: m[1], Version: version, Ecosystem: EcosystemPyPI})
	}
	return out
}
