package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcourtman/wplicense/pkg/options"
	"github.com/rs/zerolog"
)

// DefaultOptionPrefix namespaces every option this package writes.
const DefaultOptionPrefix = "wplicense"

// ErrEmptySlug is returned when a record is addressed without a slug.
var ErrEmptySlug = errors.New("product slug is empty")

// Credentials are the account-level API credentials used instead of
// per-product license keys once the site is connected.
type Credentials struct {
	Email     string
	APIKey    string
	APISecret string
	Connected bool
}

type storedCredentials struct {
	Email     string      `json:"email"`
	APIKey    string      `json:"api_key"`
	APISecret string      `json:"api_secret"`
	Connected interface{} `json:"connected"`
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(storedCredentials{
		Email:     c.Email,
		APIKey:    c.APIKey,
		APISecret: c.APISecret,
		Connected: yesNo(c.Connected),
	})
}

func (c *Credentials) UnmarshalJSON(data []byte) error {
	var stored storedCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	*c = Credentials{
		Email:     stored.Email,
		APIKey:    stored.APIKey,
		APISecret: stored.APISecret,
		Connected: NormalizeActiveFlag(stored.Connected),
	}
	return nil
}

// RecordStore persists license records and credentials in an option store.
type RecordStore struct {
	store  options.Store
	prefix string
	logger zerolog.Logger
}

// NewRecordStore wraps store. An empty prefix uses DefaultOptionPrefix.
func NewRecordStore(store options.Store, prefix string, logger zerolog.Logger) *RecordStore {
	prefix = SanitizeSlug(prefix)
	if prefix == "" {
		prefix = DefaultOptionPrefix
	}
	return &RecordStore{store: store, prefix: prefix, logger: logger}
}

// SanitizeSlug lowercases slug and replaces anything outside [a-z0-9_-] with '_'.
// It is lossy and only used for the operator-chosen option prefix.
func SanitizeSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	var b strings.Builder
	b.Grow(len(slug))
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EncodeSlug maps a product slug onto option-key characters without
// collisions: bytes in [a-z0-9_-] are kept and every other byte becomes '.'
// followed by two lowercase hex digits. Surrounding whitespace is ignored.
func EncodeSlug(slug string) string {
	slug = strings.TrimSpace(slug)
	var b strings.Builder
	b.Grow(len(slug))
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('.')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

const hexDigits = "0123456789abcdef"

// StorageKey returns the option name holding slug's record.
func (s *RecordStore) StorageKey(slug string) string {
	return s.prefix + "_" + EncodeSlug(slug) + "_license"
}

// CredentialsKey returns the option name holding the account credentials.
func (s *RecordStore) CredentialsKey() string {
	return s.prefix + "_api_credentials"
}

// Load returns slug's record, or a default record if none was stored yet.
func (s *RecordStore) Load(ctx context.Context, slug string) (*LicenseRecord, error) {
	if EncodeSlug(slug) == "" {
		return nil, ErrEmptySlug
	}
	key := s.StorageKey(slug)
	data, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load license record for %s: %w", slug, err)
	}
	if !ok || len(data) == 0 {
		return DefaultRecord(), nil
	}

	rec, unknown, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("slug", slug).Msg("Stored license record is unreadable; using defaults")
		return DefaultRecord(), nil
	}
	if unknown != "" {
		s.logger.Warn().
			Str("slug", slug).
			Str("stored_status", unknown).
			Msg("Stored license status is not recognized; treating as inactive")
	}
	return rec, nil
}

// Save writes rec under slug's key. The last Save wins.
func (s *RecordStore) Save(ctx context.Context, slug string, rec *LicenseRecord) error {
	if EncodeSlug(slug) == "" {
		return ErrEmptySlug
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode license record for %s: %w", slug, err)
	}
	if err := s.store.Set(ctx, s.StorageKey(slug), data); err != nil {
		return fmt.Errorf("save license record for %s: %w", slug, err)
	}
	return nil
}

// Credentials returns the stored account credentials; zero value if none.
func (s *RecordStore) Credentials(ctx context.Context) (Credentials, error) {
	data, ok, err := s.store.Get(ctx, s.CredentialsKey())
	if err != nil {
		return Credentials{}, fmt.Errorf("load api credentials: %w", err)
	}
	if !ok || len(data) == 0 {
		return Credentials{}, nil
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		s.logger.Warn().Err(err).Msg("Stored api credentials are unreadable; treating site as disconnected")
		return Credentials{}, nil
	}
	return creds, nil
}

// SaveCredentials replaces the stored account credentials.
func (s *RecordStore) SaveCredentials(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode api credentials: %w", err)
	}
	if err := s.store.Set(ctx, s.CredentialsKey(), data); err != nil {
		return fmt.Errorf("save api credentials: %w", err)
	}
	return nil
}
