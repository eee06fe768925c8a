package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lerrors "github.com/rcourtman/wplicense/internal/errors"
	"github.com/rcourtman/wplicense/pkg/inventory"
	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rs/zerolog"
)

// ErrUnknownProduct is returned for a slug the inventory does not manage.
var ErrUnknownProduct = errors.New("product is not managed by this site")

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Client        RemoteClient
	Records       *RecordStore
	Inventory     *inventory.Inventory
	Domain        string
	LocalPatterns []string // defaults to DefaultLocalPatterns
	Logger        zerolog.Logger
}

// Manager is the entry point the admin surface talks to.
type Manager struct {
	client     RemoteClient
	records    *RecordStore
	inventory  *inventory.Inventory
	reconciler *Reconciler
	updates    *UpdateChecker
	domain     string
	patterns   []string
	logger     zerolog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	patterns := cfg.LocalPatterns
	if len(patterns) == 0 {
		patterns = DefaultLocalPatterns
	}
	return &Manager{
		client:     cfg.Client,
		records:    cfg.Records,
		inventory:  cfg.Inventory,
		reconciler: NewReconciler(cfg.Client, cfg.Records, ReconcilerOptions{Domain: cfg.Domain, Logger: cfg.Logger}),
		updates:    NewUpdateChecker(cfg.Client, cfg.Records, UpdateOptions{Domain: cfg.Domain, Logger: cfg.Logger}),
		domain:     strings.TrimSpace(cfg.Domain),
		patterns:   patterns,
		logger:     cfg.Logger,
	}
}

// Domain returns the activation domain.
func (m *Manager) Domain() string { return m.domain }

// Products lists managed products with their stored records.
func (m *Manager) Products(ctx context.Context) ([]ProductLicense, error) {
	products, err := m.inventory.Products(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProductLicense, 0, len(products))
	for _, p := range products {
		rec, err := m.records.Load(ctx, p.Slug)
		if err != nil {
			return nil, err
		}
		out = append(out, ProductLicense{Product: p, Record: rec})
	}
	return out, nil
}

// License returns one managed product and its record.
func (m *Manager) License(ctx context.Context, slug string) (ProductLicense, error) {
	p, err := m.product(ctx, slug)
	if err != nil {
		return ProductLicense{}, err
	}
	rec, err := m.records.Load(ctx, p.Slug)
	if err != nil {
		return ProductLicense{}, err
	}
	return ProductLicense{Product: p, Record: rec}, nil
}

// Submit runs the reconciliation workflow for slug.
func (m *Manager) Submit(ctx context.Context, slug string, req Request) (*Result, error) {
	p, err := m.product(ctx, slug)
	if err != nil {
		return nil, err
	}
	return m.reconciler.Submit(ctx, p, req)
}

// CheckUpdates runs the update check for every managed product. A nil
// transient is replaced by a fresh one populated from the inventory.
func (m *Manager) CheckUpdates(ctx context.Context, transient *UpdateTransient) (*UpdateTransient, map[string]UpdateOutcome, error) {
	products, err := m.inventory.Products(ctx)
	if err != nil {
		return nil, nil, err
	}
	if transient == nil {
		transient = NewUpdateTransient(products)
	}
	return transient, m.updates.CheckAll(ctx, products, transient), nil
}

// Notices builds the admin notices; transient may be nil.
func (m *Manager) Notices(ctx context.Context, transient *UpdateTransient) ([]Notice, error) {
	licenses, err := m.Products(ctx)
	if err != nil {
		return nil, err
	}
	return BuildNotices(licenses, m.domain, m.patterns, transient), nil
}

// Connect exchanges account API credentials with the server and, when the
// server accepts them, switches the site to credential authentication.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	creds.Email = strings.TrimSpace(creds.Email)
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	creds.APISecret = strings.TrimSpace(creds.APISecret)

	params := licenseapi.Params{
		licenseapi.ParamEmail:     creds.Email,
		licenseapi.ParamAPIKey:    creds.APIKey,
		licenseapi.ParamAPISecret: creds.APISecret,
	}
	if err := lerrors.RequireParams("connect", params, licenseapi.ParamEmail, licenseapi.ParamAPIKey, licenseapi.ParamAPISecret); err != nil {
		return err
	}
	params[licenseapi.ParamDomain] = m.domain

	resp, err := m.client.Call(ctx, licenseapi.ActionConnect, params)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(resp.Status)) != licenseapi.StatusOK {
		msg := strings.TrimSpace(string(resp.Message))
		if msg == "" {
			msg = fmt.Sprintf("server answered %q", string(resp.Status))
		}
		return lerrors.NewAPIError(lerrors.KindValidationFailed, string(licenseapi.ActionConnect), msg, lerrors.ErrServerRejected)
	}

	creds.Connected = true
	if err := m.records.SaveCredentials(ctx, creds); err != nil {
		return err
	}
	m.logger.Info().Str("email", creds.Email).Msg("Connected with account API credentials")
	return nil
}

// Disconnect returns the site to per-product license keys. The stored
// credentials are kept so reconnecting does not require retyping them.
func (m *Manager) Disconnect(ctx context.Context) error {
	creds, err := m.records.Credentials(ctx)
	if err != nil {
		return err
	}
	if !creds.Connected {
		return nil
	}
	creds.Connected = false
	if err := m.records.SaveCredentials(ctx, creds); err != nil {
		return err
	}
	m.logger.Info().Msg("Disconnected account API credentials")
	return nil
}

// Catalog fetches the server's product catalog and records download URLs
// for the products this site manages.
func (m *Manager) Catalog(ctx context.Context) ([]licenseapi.CatalogProduct, error) {
	resp, err := m.client.Call(ctx, licenseapi.ActionProducts, licenseapi.Params{licenseapi.ParamDomain: m.domain})
	if err != nil {
		return nil, err
	}
	if !licenseapi.CheckResponseStatus(resp) {
		return nil, fmt.Errorf("products: %w: %q", lerrors.ErrUnknownResponse, string(resp.Status))
	}
	for _, p := range resp.Products {
		if url := strings.TrimSpace(string(p.DownloadURL)); url != "" {
			m.inventory.SetDownloadURL(string(p.Slug), url)
		}
	}
	return resp.Products, nil
}

// ProductInfo fetches the catalog entry for slug.
func (m *Manager) ProductInfo(ctx context.Context, slug string) (*licenseapi.CatalogProduct, error) {
	slug = strings.TrimSpace(slug)
	if err := lerrors.RequireParams("product", map[string]string{licenseapi.ParamSlug: slug}, licenseapi.ParamSlug); err != nil {
		return nil, err
	}
	resp, err := m.client.Call(ctx, licenseapi.ActionProduct, licenseapi.Params{
		licenseapi.ParamSlug:   slug,
		licenseapi.ParamDomain: m.domain,
	})
	if err != nil {
		return nil, err
	}
	if !licenseapi.CheckResponseStatus(resp) || resp.Product == nil {
		return nil, fmt.Errorf("product %s: %w", slug, lerrors.ErrUnknownResponse)
	}
	if url := strings.TrimSpace(string(resp.Product.DownloadURL)); url != "" {
		m.inventory.SetDownloadURL(slug, url)
	}
	return resp.Product, nil
}

func (m *Manager) product(ctx context.Context, slug string) (Product, error) {
	p, ok, err := m.inventory.Product(ctx, strings.TrimSpace(slug))
	if err != nil {
		return Product{}, err
	}
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, slug)
	}
	return p, nil
}
