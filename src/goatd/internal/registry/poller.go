package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

var (
	pkgverRegex = regexp.MustCompile(`(?m)^pkgver=(['"]?)([^'"\s#]+)['"]?\s*$`)
	pkgrelRegex = regexp.MustCompile(`(?m)^pkgrel=(['"]?)([^'"\s#]+)['"]?\s*$`)
)

// VersionInfo is the pkgver/pkgrel pair the Version Poller extracts from a
// remote PKGBUILD.
type VersionInfo struct {
	Variant string
	PkgVer  string
	PkgRel  string
}

// Poller fetches a variant's raw PKGBUILD over HTTP and extracts its
// pkgver/pkgrel, so the orchestrator can detect upstream releases without a
// full clone.
type Poller struct {
	client *http.Client
}

// NewPoller returns a Poller with a bounded request timeout.
func NewPoller() *Poller {
	return &Poller{client: &http.Client{Timeout: 15 * time.Second}}
}

// Poll fetches rawURL and extracts pkgver/pkgrel.
func (p *Poller) Poll(ctx context.Context, variant, rawURL string) (VersionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VersionInfo{}, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("read body: %w", err)
	}

	info := VersionInfo{Variant: variant}
	if m := pkgverRegex.FindSubmatch(body); m != nil {
		info.PkgVer = string(m[2])
	}
	if m := pkgrelRegex.FindSubmatch(body); m != nil {
		info.PkgRel = string(m[2])
	}
	return info, nil
}
