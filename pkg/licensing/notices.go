package licensing

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// NoticeKind identifies an admin notice.
type NoticeKind string

const (
	NoticeLicenseInactive NoticeKind = "license_inactive"
	NoticeLocalhost       NoticeKind = "localhost"
	NoticeUpdateAvailable NoticeKind = "update_available"
)

// Notice is one admin notice. Rendering is left to the host.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Slug    string     `json:"slug,omitempty"`
	Message string     `json:"message"`
}

// DefaultLocalPatterns match host names of local development sites.
var DefaultLocalPatterns = []string{"localhost", "127.0.0.1", "::1", "*.local", "*.test", "*.localhost"}

// IsLocalDomain reports whether domain matches one of patterns. domain may be
// a bare host, host:port or a URL.
func IsLocalDomain(domain string, patterns []string) bool {
	host := hostOnly(domain)
	if host == "" {
		return false
	}
	for _, pattern := range patterns {
		if wildcard.Match(strings.ToLower(strings.TrimSpace(pattern)), host) {
			return true
		}
	}
	return false
}

func hostOnly(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return ""
	}
	if strings.Contains(domain, "://") {
		if u, err := url.Parse(domain); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(domain); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(strings.TrimSuffix(domain, "/"), "[]")
}

// ProductLicense pairs a product with its stored record.
type ProductLicense struct {
	Product Product        `json:"product"`
	Record  *LicenseRecord `json:"license"`
}

// BuildNotices derives the admin notices for the given state. transient may be nil.
func BuildNotices(licenses []ProductLicense, domain string, patterns []string, transient *UpdateTransient) []Notice {
	var notices []Notice

	if IsLocalDomain(domain, patterns) {
		notices = append(notices, Notice{
			Kind:    NoticeLocalhost,
			Message: fmt.Sprintf("%s looks like a local development site; license activations here may not count toward your limit.", hostOnly(domain)),
		})
	}

	byFile := make(map[string]Product, len(licenses))
	for _, pl := range licenses {
		byFile[productFile(pl.Product)] = pl.Product
		if pl.Record == nil || pl.Record.IsValid() {
			continue
		}
		notices = append(notices, Notice{
			Kind:    NoticeLicenseInactive,
			Slug:    pl.Product.Slug,
			Message: fmt.Sprintf("%s: %s Enter a valid license key to receive updates and support.", displayName(pl.Product), pl.Record.Status.Label()),
		})
	}

	if transient != nil {
		// One BuildNotices call is one page load.
		upgrades := NewUpgradeMessages()
		files := make([]string, 0, len(transient.Response))
		for file := range transient.Response {
			files = append(files, file)
		}
		sort.Strings(files)
		for _, file := range files {
			d := transient.Response[file]
			if d == nil {
				continue
			}
			p, ok := byFile[file]
			if !ok {
				continue
			}
			notices = append(notices, Notice{
				Kind:    NoticeUpdateAvailable,
				Slug:    p.Slug,
				Message: joinMessage(fmt.Sprintf("%s version %s is available.", displayName(p), d.NewVersion), upgrades.Render(d)),
			})
		}
	}
	return notices
}

func displayName(p Product) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Slug
}
