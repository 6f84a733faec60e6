package hosting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultNPMRegistry is the public npm registry.
const DefaultNPMRegistry = "https://registry.npmjs.org"

// NPMRegistry looks up published package versions.
type NPMRegistry struct {
	baseURL string
	t       transport
}

// NewNPMRegistry returns a registry client. An empty baseURL selects the public registry.
func NewNPMRegistry(baseURL string, client *http.Client) *NPMRegistry {
	if baseURL == "" {
		baseURL = DefaultNPMRegistry
	}
	return &NPMRegistry{baseURL: strings.TrimRight(baseURL, "/"), t: newTransport(client, "")}
}

type npmPackument struct {
	DistTags struct {
		Latest string `json:"latest"`
	} `json:"dist-tags"`
}

// Latest returns the version behind the "latest" dist-tag of name. An unknown
// package yields inspector.ErrNotFound.
func (r *NPMRegistry) Latest(ctx context.Context, name string) (string, error) {
	// Scoped names ("@types/node") are one path segment with an escaped slash.
	var doc npmPackument
	if err := r.t.getJSON(ctx, r.baseURL+"/"+url.PathEscape(name), fileScope, &doc); err != nil {
		return "", err
	}
	if doc.DistTags.Latest == "" {
		return "", fmt.Errorf("%s: no latest dist-tag", name)
	}
	return doc.DistTags.Latest, nil
}
