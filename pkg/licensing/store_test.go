package licensing

import (
	"context"
	"strings"
	"testing"

	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/rcourtman/wplicense/pkg/options"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStorageKeys(t *testing.T) {
	records, _ := newTestRecords()
	assert.Equal(t, "wplicense_acme-forms_license", records.StorageKey(" acme-forms "))
	assert.Equal(t, "wplicense_my_plugin_license", records.StorageKey("my_plugin"))
	assert.Equal(t, "wplicense_my.2eplugin_license", records.StorageKey("my.plugin"))
	assert.Equal(t, "wplicense_my.20plugin_license", records.StorageKey("my plugin"))
	assert.Equal(t, "wplicense_.4dy.2e.50lugin_license", records.StorageKey("My.Plugin"))
	assert.Equal(t, "wplicense_api_credentials", records.CredentialsKey())

	custom := NewRecordStore(options.NewMemory(), "Vendor", zerolog.Nop())
	assert.Equal(t, "vendor_acme_license", custom.StorageKey("acme"))
}

func TestStorageKeysDoNotCollide(t *testing.T) {
	records, _ := newTestRecords()
	slugs := []string{"my.plugin", "my_plugin", "My.Plugin", "my-plugin", "my plugin", "my.2eplugin", "MY_PLUGIN", "my%2eplugin"}
	seen := make(map[string]string, len(slugs))
	for _, slug := range slugs {
		key := records.StorageKey(slug)
		if other, dup := seen[key]; dup {
			t.Fatalf("slugs %q and %q share storage key %q", other, slug, key)
		}
		seen[key] = slug
	}

	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-zA-Z0-9._ %-]{1,12}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-zA-Z0-9._ %-]{1,12}`).Draw(t, "b")
		if strings.TrimSpace(a) == strings.TrimSpace(b) {
			return
		}
		if EncodeSlug(a) == EncodeSlug(b) {
			t.Fatalf("EncodeSlug(%q) == EncodeSlug(%q)", a, b)
		}
	})
}

func TestSeparateRecordsForSimilarSlugs(t *testing.T) {
	records, _ := newTestRecords()
	ctx := context.Background()

	dotted := DefaultRecord()
	dotted.SetKey("DOT")
	require.NoError(t, records.Save(ctx, "my.plugin", dotted))

	assert.Equal(t, "", loadRecord(t, records, "my_plugin").LicenseKey)
	assert.Equal(t, "DOT", loadRecord(t, records, "my.plugin").LicenseKey)
}

func TestLoadDefaultsAndSave(t *testing.T) {
	records, mem := newTestRecords()
	ctx := context.Background()

	rec := loadRecord(t, records, "acme")
	assert.Equal(t, DefaultRecord(), rec)
	assert.Empty(t, mem.Keys(), "loading must not create the option")

	rec.SetKey("K")
	rec.SetStatus(licenseapi.StatusExpiring)
	require.NoError(t, records.Save(ctx, "acme", rec))
	assert.Equal(t, rec, loadRecord(t, records, "acme"))

	_, err := records.Load(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptySlug)
}

func TestLoadCorruptRecordFallsBackToDefaults(t *testing.T) {
	records, mem := newTestRecords()
	require.NoError(t, mem.Set(context.Background(), records.StorageKey("acme"), []byte("not json")))
	assert.Equal(t, DefaultRecord(), loadRecord(t, records, "acme"))
}

func TestCredentialsRoundTrip(t *testing.T) {
	records, mem := newTestRecords()
	ctx := context.Background()

	creds, err := records.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, creds)

	want := Credentials{Email: "a@example.com", APIKey: "key", APISecret: "secret", Connected: true}
	require.NoError(t, records.SaveCredentials(ctx, want))
	got, err := records.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, _, _ := mem.Get(ctx, records.CredentialsKey())
	assert.Contains(t, string(raw), `"connected":"yes"`)

	require.NoError(t, mem.Set(ctx, records.CredentialsKey(), []byte(`{"email":"b@example.com","connected":1}`)))
	got, err = records.Credentials(ctx)
	require.NoError(t, err)
	assert.True(t, got.Connected)
}
