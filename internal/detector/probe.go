package detector

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

// Probe checks whether a remote target is publicly visible. It sends one
// unauthenticated HEAD request to the repository page and marks the target
// AuthRequired on 401, 403 or 404 (private repositories answer 404).
// Local targets, targets without a known service and callers that already
// hold a credential are returned unchanged, as are network failures.
func (d *Detector) Probe(ctx context.Context, target ScanTarget, hasCredential bool) ScanTarget {
	if hasCredential || !target.IsRemote() || target.Slug() == "" {
		return target
	}
	base, ok := d.webBase[target.Service]
	if !ok {
		return target
	}

	url := normalizeTargetURL(strings.TrimRight(base, "/") + "/" + target.Slug())
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return target
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return target
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		target.AuthRequired = true
	}
	return target
}

func normalizeTargetURL(target string) string {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return target
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}
