// Package inventory enumerates the installed plugins and themes that declare
// the license marker header. Scan results are cached for a coarse TTL; the
// cache is advisory and a stale list heals on the next expiry.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcourtman/wplicense/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a scan result is served before rescanning.
	DefaultTTL = 2 * time.Hour
	// DefaultMarkerHeader is the header a product sets to opt into license management.
	DefaultMarkerHeader = "License Server"
)

// Kind distinguishes plugins from themes.
type Kind string

const (
	KindPlugin Kind = "plugin"
	KindTheme  Kind = "theme"
)

// ProductDescriptor describes one managed product found on disk.
type ProductDescriptor struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author,omitempty"`
	AuthorURI   string `json:"author_uri,omitempty"`
	RequiresWP  string `json:"requires_wp,omitempty"`
	TestedWP    string `json:"tested_wp,omitempty"`
	RequiresPHP string `json:"requires_php,omitempty"`
	Marker      string `json:"marker"`
	// File identifies the product to the host updater: "dir/main.php" for
	// plugins, the stylesheet directory for themes.
	File        string `json:"file"`
	Type        Kind   `json:"type"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Config configures an Inventory.
type Config struct {
	PluginsDir   string
	ThemesDir    string
	MarkerHeader string
	TTL          time.Duration
	Reader       HeaderReader
	Logger       zerolog.Logger
}

// Inventory scans and caches managed products.
type Inventory struct {
	cfg   Config
	group singleflight.Group
	now   func() time.Time

	mu        sync.RWMutex
	products  []ProductDescriptor
	expiresAt time.Time
	downloads map[string]string // slug -> catalog download URL
}

// New creates an inventory. Zero values in cfg take their defaults.
func New(cfg Config) *Inventory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if strings.TrimSpace(cfg.MarkerHeader) == "" {
		cfg.MarkerHeader = DefaultMarkerHeader
	}
	if cfg.Reader == nil {
		cfg.Reader = FileHeaderReader{}
	}
	return &Inventory{
		cfg:       cfg,
		now:       time.Now,
		downloads: make(map[string]string),
	}
}

// Products returns the cached product list, rescanning when it has expired.
// Concurrent callers share a single scan.
func (i *Inventory) Products(ctx context.Context) ([]ProductDescriptor, error) {
	i.mu.RLock()
	if i.products != nil && i.now().Before(i.expiresAt) {
		out := i.withDownloadsLocked(i.products)
		i.mu.RUnlock()
		return out, nil
	}
	i.mu.RUnlock()

	v, err, _ := i.group.Do("scan", func() (interface{}, error) {
		products, err := i.Scan(ctx)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.products = products
		i.expiresAt = i.now().Add(i.cfg.TTL)
		i.mu.Unlock()
		return products, nil
	})
	if err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.withDownloadsLocked(v.([]ProductDescriptor)), nil
}

// Product looks up one managed product by slug.
func (i *Inventory) Product(ctx context.Context, slug string) (ProductDescriptor, bool, error) {
	products, err := i.Products(ctx)
	if err != nil {
		return ProductDescriptor{}, false, err
	}
	for _, p := range products {
		if p.Slug == slug {
			return p, true, nil
		}
	}
	return ProductDescriptor{}, false, nil
}

// Invalidate drops the cached list so the next read rescans.
func (i *Inventory) Invalidate() {
	i.mu.Lock()
	i.products = nil
	i.expiresAt = time.Time{}
	i.mu.Unlock()
}

// SetDownloadURL records the catalog download URL for slug. Empty url clears it.
func (i *Inventory) SetDownloadURL(slug, url string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if url == "" {
		delete(i.downloads, slug)
		return
	}
	i.downloads[slug] = url
}

func (i *Inventory) withDownloadsLocked(products []ProductDescriptor) []ProductDescriptor {
	out := make([]ProductDescriptor, len(products))
	copy(out, products)
	for idx := range out {
		if u, ok := i.downloads[out[idx].Slug]; ok {
			out[idx].DownloadURL = u
		}
	}
	return out
}

// Scan walks the plugin and theme directories without touching the cache.
// A missing directory contributes no products.
func (i *Inventory) Scan(ctx context.Context) ([]ProductDescriptor, error) {
	var products []ProductDescriptor

	plugins, err := i.scanPlugins(ctx)
	if err != nil {
		return nil, err
	}
	products = append(products, plugins...)

	themes, err := i.scanThemes(ctx)
	if err != nil {
		return nil, err
	}
	products = append(products, themes...)

	sort.Slice(products, func(a, b int) bool {
		if products[a].Type != products[b].Type {
			return products[a].Type < products[b].Type
		}
		return products[a].Slug < products[b].Slug
	})

	metrics.RecordInventoryScan(len(products))
	i.cfg.Logger.Debug().Int("products", len(products)).Msg("Scanned product inventory")
	if products == nil {
		products = []ProductDescriptor{}
	}
	return products, nil
}

func (i *Inventory) pluginFields() []string {
	return []string{HeaderPluginName, HeaderVersion, HeaderAuthor, HeaderAuthorURI,
		HeaderRequiresWP, HeaderTestedWP, HeaderRequiresPHP, HeaderTextDomain, HeaderSlug, i.cfg.MarkerHeader}
}

func (i *Inventory) themeFields() []string {
	return []string{HeaderThemeName, HeaderVersion, HeaderAuthor, HeaderAuthorURI,
		HeaderRequiresWP, HeaderTestedWP, HeaderRequiresPHP, HeaderTextDomain, HeaderSlug, i.cfg.MarkerHeader}
}

func (i *Inventory) scanPlugins(ctx context.Context) ([]ProductDescriptor, error) {
	root := strings.TrimSpace(i.cfg.PluginsDir)
	if root == "" {
		return nil, nil
	}
	entries, err := readDirIfExists(root)
	if err != nil {
		return nil, fmt.Errorf("scan plugins: %w", err)
	}

	var out []ProductDescriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		if entry.IsDir() {
			files, err := os.ReadDir(filepath.Join(root, name))
			if err != nil {
				i.cfg.Logger.Warn().Err(err).Str("dir", name).Msg("Skipping unreadable plugin directory")
				continue
			}
			for _, f := range files {
				if f.IsDir() || filepath.Ext(f.Name()) != ".php" {
					continue
				}
				if p, ok := i.readPlugin(root, name+"/"+f.Name(), name); ok {
					out = append(out, p)
					break
				}
			}
			continue
		}

		if filepath.Ext(name) == ".php" {
			if p, ok := i.readPlugin(root, name, strings.TrimSuffix(name, ".php")); ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (i *Inventory) readPlugin(root, file, fallbackSlug string) (ProductDescriptor, bool) {
	headers, err := i.cfg.Reader.ReadHeaders(filepath.Join(root, filepath.FromSlash(file)), i.pluginFields())
	if err != nil {
		i.cfg.Logger.Warn().Err(err).Str("file", file).Msg("Failed to read plugin headers")
		return ProductDescriptor{}, false
	}
	if headers[HeaderPluginName] == "" {
		return ProductDescriptor{}, false
	}
	return i.describe(headers, headers[HeaderPluginName], file, fallbackSlug, KindPlugin)
}

func (i *Inventory) scanThemes(ctx context.Context) ([]ProductDescriptor, error) {
	root := strings.TrimSpace(i.cfg.ThemesDir)
	if root == "" {
		return nil, nil
	}
	entries, err := readDirIfExists(root)
	if err != nil {
		return nil, fmt.Errorf("scan themes: %w", err)
	}

	var out []ProductDescriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		stylesheet := filepath.Join(root, entry.Name(), "style.css")
		headers, err := i.cfg.Reader.ReadHeaders(stylesheet, i.themeFields())
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				i.cfg.Logger.Warn().Err(err).Str("theme", entry.Name()).Msg("Failed to read theme headers")
			}
			continue
		}
		if headers[HeaderThemeName] == "" {
			continue
		}
		if p, ok := i.describe(headers, headers[HeaderThemeName], entry.Name(), entry.Name(), KindTheme); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (i *Inventory) describe(headers map[string]string, name, file, fallbackSlug string, kind Kind) (ProductDescriptor, bool) {
	marker := headers[i.cfg.MarkerHeader]
	if marker == "" {
		return ProductDescriptor{}, false
	}

	slug := headers[HeaderSlug]
	if slug == "" {
		slug = fallbackSlug
	}

	return ProductDescriptor{
		Slug:        slug,
		Name:        name,
		Version:     headers[HeaderVersion],
		Author:      headers[HeaderAuthor],
		AuthorURI:   headers[HeaderAuthorURI],
		RequiresWP:  headers[HeaderRequiresWP],
		TestedWP:    headers[HeaderTestedWP],
		RequiresPHP: headers[HeaderRequiresPHP],
		Marker:      marker,
		File:        file,
		Type:        kind,
	}, true
}

func readDirIfExists(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}
