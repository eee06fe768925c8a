package licensing

import (
	"testing"

	"github.com/rcourtman/wplicense/pkg/licenseapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalDomain(t *testing.T) {
	local := []string{"localhost", "LOCALHOST:8080", "http://127.0.0.1/", "shop.local", "dev.test", "wp.localhost", "[::1]:80"}
	for _, d := range local {
		assert.True(t, IsLocalDomain(d, DefaultLocalPatterns), d)
	}
	remote := []string{"", "example.com", "local.example.com", "https://shop.example.org", "testing.io"}
	for _, d := range remote {
		assert.False(t, IsLocalDomain(d, DefaultLocalPatterns), d)
	}
	assert.True(t, IsLocalDomain("staging.acme.dev", []string{"staging.*"}))
}

func TestBuildNotices(t *testing.T) {
	active := activeRecord("K", true, false)
	inactive := DefaultRecord()
	expired := DefaultRecord()
	expired.SetStatus(licenseapi.StatusExpired)

	theme := Product{Slug: "acme-theme", Name: "Acme Theme", File: "acme-theme"}
	tools := Product{Slug: "tools", File: "tools/tools.php"}
	licenses := []ProductLicense{
		{Product: acme, Record: active},
		{Product: theme, Record: inactive},
		{Product: tools, Record: expired},
	}
	transient := &UpdateTransient{Response: map[string]*UpdateDescriptor{
		"acme/acme.php":  {Slug: "acme", NewVersion: "1.3.0"},
		"unknown/x.php":  {Slug: "x", NewVersion: "1.0.0"},
	}}

	notices := BuildNotices(licenses, "mysite.local", DefaultLocalPatterns, transient)
	require.Len(t, notices, 4)

	assert.Equal(t, NoticeLocalhost, notices[0].Kind)
	assert.Contains(t, notices[0].Message, "mysite.local")

	assert.Equal(t, NoticeLicenseInactive, notices[1].Kind)
	assert.Equal(t, "acme-theme", notices[1].Slug)
	assert.Contains(t, notices[1].Message, "Acme Theme: License is inactive.")

	assert.Equal(t, NoticeLicenseInactive, notices[2].Kind)
	assert.Contains(t, notices[2].Message, "tools: License has expired.")

	assert.Equal(t, NoticeUpdateAvailable, notices[3].Kind)
	assert.Equal(t, "Acme Forms version 1.3.0 is available. "+MsgActivateForUpdates, notices[3].Message)

	assert.Empty(t, BuildNotices([]ProductLicense{{Product: acme, Record: active}}, "example.com", DefaultLocalPatterns, nil))
}

func TestBuildNoticesRendersUpgradeMessages(t *testing.T) {
	active := activeRecord("K", true, false)
	tools := Product{Slug: "tools", Name: "Tools", File: "tools/tools.php"}
	licenses := []ProductLicense{{Product: acme, Record: active}, {Product: tools, Record: active}}
	transient := &UpdateTransient{Response: map[string]*UpdateDescriptor{
		"acme/acme.php":   {Slug: "acme", NewVersion: "1.3.0", Package: "https://dl/acme.zip", UpgradeNotice: " Fixes the export bug. "},
		"tools/tools.php": {Slug: "tools", NewVersion: "2.0.0"},
	}}

	notices := BuildNotices(licenses, "example.com", DefaultLocalPatterns, transient)
	require.Len(t, notices, 2)
	assert.Equal(t, "Acme Forms version 1.3.0 is available. Fixes the export bug.", notices[0].Message)
	assert.Equal(t, "Tools version 2.0.0 is available. "+MsgActivateForUpdates, notices[1].Message)

	// Every call renders afresh.
	again := BuildNotices(licenses, "example.com", DefaultLocalPatterns, transient)
	assert.Equal(t, notices, again)
}
