package licensing

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rcourtman/wplicense/internal/logging"
	"github.com/rcourtman/wplicense/internal/metrics"
	"github.com/rcourtman/wplicense/internal/updates"
	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rs/zerolog"
)

// UpdateOutcome is the result of one update eligibility check.
type UpdateOutcome string

const (
	UpdateSkipped    UpdateOutcome = "skipped"    // host transient not populated yet
	UpdateFailed     UpdateOutcome = "failed"     // call failed or status unrecognized
	UpdateUnlicensed UpdateOutcome = "unlicensed" // license is not active or expiring
	UpdateAvailable  UpdateOutcome = "update_available"
	UpdateUpToDate   UpdateOutcome = "up_to_date"
)

// MsgActivateForUpdates replaces the upgrade notice of an update that came
// without a download package.
const MsgActivateForUpdates = "Please activate your license to receive automatic updates for this product."

// UpdateDescriptor is the entry injected into the host's update transient.
type UpdateDescriptor struct {
	Slug          string            `json:"slug"`
	Plugin        string            `json:"plugin"`
	NewVersion    string            `json:"new_version"`
	URL           string            `json:"url,omitempty"`
	Package       string            `json:"package"`
	Tested        string            `json:"tested,omitempty"`
	Requires      string            `json:"requires,omitempty"`
	RequiresPHP   string            `json:"requires_php,omitempty"`
	Sections      map[string]string `json:"sections,omitempty"`
	Banners       map[string]string `json:"banners,omitempty"`
	Ratings       json.RawMessage   `json:"ratings,omitempty"`
	UpgradeNotice string            `json:"upgrade_notice,omitempty"`
}

// UpdateTransient mirrors the host's update cache for one scan cycle.
// Checked maps product file to installed version and is filled by the host
// before products are asked about updates.
type UpdateTransient struct {
	Checked     map[string]string            `json:"checked"`
	Response    map[string]*UpdateDescriptor `json:"response"`
	NoUpdate    map[string]*UpdateDescriptor `json:"no_update"`
	LastChecked time.Time                    `json:"last_checked"`
}

// NewUpdateTransient returns a transient already marked as populated with the
// installed versions of products.
func NewUpdateTransient(products []Product) *UpdateTransient {
	t := &UpdateTransient{
		Checked:     make(map[string]string, len(products)),
		Response:    make(map[string]*UpdateDescriptor),
		NoUpdate:    make(map[string]*UpdateDescriptor),
		LastChecked: time.Now().UTC(),
	}
	for _, p := range products {
		t.Checked[productFile(p)] = p.Version
	}
	return t
}

// UpdateOptions configures an UpdateChecker.
type UpdateOptions struct {
	Domain string
	Logger zerolog.Logger
}

// UpdateChecker asks the license server whether licensed products have a
// newer release. Every check also revalidates the stored license status.
type UpdateChecker struct {
	client  RemoteClient
	records *RecordStore
	domain  string
	logger  zerolog.Logger
}

func NewUpdateChecker(client RemoteClient, records *RecordStore, opts UpdateOptions) *UpdateChecker {
	return &UpdateChecker{
		client:  client,
		records: records,
		domain:  strings.TrimSpace(opts.Domain),
		logger:  opts.Logger,
	}
}

// Check runs the eligibility check for product and enriches transient.
func (u *UpdateChecker) Check(ctx context.Context, product Product, transient *UpdateTransient) UpdateOutcome {
	outcome := u.check(ctx, product, transient)
	metrics.RecordUpdateCheck(string(outcome))
	return outcome
}

func (u *UpdateChecker) check(ctx context.Context, product Product, transient *UpdateTransient) UpdateOutcome {
	if transient == nil || len(transient.Checked) == 0 {
		return UpdateSkipped
	}
	logger := logging.FromContext(ctx, u.logger).With().Str("slug", product.Slug).Logger()

	creds, err := u.records.Credentials(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Update check could not load credentials")
		return UpdateFailed
	}
	rec, err := u.records.Load(ctx, product.Slug)
	if err != nil {
		logger.Warn().Err(err).Msg("Update check could not load license record")
		return UpdateFailed
	}
	if u.domain != "" && rec.Domain == "" {
		rec.Domain = u.domain
	}

	file := productFile(product)
	installed := product.Version
	if v, ok := transient.Checked[file]; ok && strings.TrimSpace(v) != "" {
		installed = v
	}

	resp, err := u.client.Call(ctx, licenseapi.ActionCheckUpdate, licenseParams(product, rec, creds))
	if err != nil {
		logger.Warn().Err(err).Msg("Update check failed")
		return UpdateFailed
	}

	status, ok := acceptedStatus(resp)
	if !ok {
		logger.Warn().Str("status", responseStatusText(resp)).Msg("Update check returned an unrecognized status")
		return UpdateFailed
	}
	applyStatus(rec, resp, status)
	if installed != "" {
		rec.CurrentVersion = installed
	}
	if err := u.records.Save(ctx, product.Slug, rec); err != nil {
		logger.Warn().Err(err).Msg("Update check could not save license record")
	}
	if !status.IsValid() {
		logger.Debug().Str("status", string(status)).Msg("License not valid; update withheld")
		return UpdateUnlicensed
	}

	descriptor := newDescriptor(product, file, resp.SoftwareDetails)
	ensureTransientMaps(transient)

	newer, err := updates.IsNewer(descriptor.NewVersion, installed)
	if err != nil {
		logger.Debug().Err(err).Str("new_version", descriptor.NewVersion).Msg("Ignoring unparsable server version")
	}
	if newer {
		if descriptor.Package == "" {
			descriptor.UpgradeNotice = MsgActivateForUpdates
		}
		transient.Response[file] = descriptor
		delete(transient.NoUpdate, file)
		logger.Info().Str("installed", installed).Str("new_version", descriptor.NewVersion).Msg("Update available")
		return UpdateAvailable
	}

	descriptor.NewVersion = installed
	descriptor.Package = ""
	transient.NoUpdate[file] = descriptor
	delete(transient.Response, file)
	return UpdateUpToDate
}

// CheckAll checks every product and returns the outcome per slug.
func (u *UpdateChecker) CheckAll(ctx context.Context, products []Product, transient *UpdateTransient) map[string]UpdateOutcome {
	out := make(map[string]UpdateOutcome, len(products))
	for _, p := range products {
		out[p.Slug] = u.Check(ctx, p, transient)
	}
	return out
}

func newDescriptor(product Product, file string, details *licenseapi.SoftwareDetails) *UpdateDescriptor {
	d := &UpdateDescriptor{
		Slug:   product.Slug,
		Plugin: file,
		URL:    product.AuthorURI,
	}
	if details == nil {
		return d
	}
	d.NewVersion = strings.TrimSpace(string(details.NewVersion))
	d.Package = strings.TrimSpace(string(details.Package))
	d.Tested = string(details.Tested)
	d.Requires = string(details.Requires)
	d.RequiresPHP = string(details.RequiresPHP)
	d.UpgradeNotice = string(details.UpgradeNotice)
	d.Sections = details.Sections
	d.Banners = details.Banners
	d.Ratings = details.Ratings
	if homepage := strings.TrimSpace(string(details.Homepage)); homepage != "" {
		d.URL = homepage
	}
	return d
}

func ensureTransientMaps(t *UpdateTransient) {
	if t.Response == nil {
		t.Response = make(map[string]*UpdateDescriptor)
	}
	if t.NoUpdate == nil {
		t.NoUpdate = make(map[string]*UpdateDescriptor)
	}
}

func productFile(p Product) string {
	if p.File != "" {
		return p.File
	}
	return p.Slug
}

// UpgradeMessages renders the per-product upgrade notice for one page load.
// The activation notice for package-less updates is returned only the first
// time a product is rendered. Create one per page load.
type UpgradeMessages struct {
	mu       sync.Mutex
	rendered map[string]bool
}

func NewUpgradeMessages() *UpgradeMessages {
	return &UpgradeMessages{rendered: make(map[string]bool)}
}

// Render returns the notice to show under d, or "" when there is nothing
// (more) to show.
func (m *UpgradeMessages) Render(d *UpdateDescriptor) string {
	if d == nil {
		return ""
	}
	if d.Package != "" {
		return strings.TrimSpace(d.UpgradeNotice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rendered[d.Slug] {
		return ""
	}
	m.rendered[d.Slug] = true
	return MsgActivateForUpdates
}
