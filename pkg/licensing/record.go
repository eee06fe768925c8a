// Package licensing holds the per-product license record and the workflows
// that reconcile it against the license server.
package licensing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcourtman/wplicense/pkg/licenseapi"
)

// Status is a license status; see licenseapi for the known values.
type Status = licenseapi.Status

// Environment is the deployment a license activation is bound to.
type Environment string

const (
	EnvLive    Environment = "live"
	EnvStaging Environment = "staging"
)

// Environments lists every environment in storage order.
var Environments = []Environment{EnvLive, EnvStaging}

// ParseEnvironment accepts live and staging; an empty value means live.
func ParseEnvironment(raw string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(raw))); env {
	case "":
		return EnvLive, nil
	case EnvLive, EnvStaging:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q", raw)
	}
}

// LicenseRecord is the locally persisted license state of one product.
type LicenseRecord struct {
	LicenseKey     string
	Status         Status
	Expires        string
	CurrentVersion string
	Environment    Environment
	ActiveStatus   map[Environment]bool
	Domain         string
}

// DefaultRecord returns the state of a product that has never been licensed.
func DefaultRecord() *LicenseRecord {
	return &LicenseRecord{
		Status:      licenseapi.StatusInactive,
		Environment: EnvLive,
		ActiveStatus: map[Environment]bool{
			EnvLive:    false,
			EnvStaging: false,
		},
	}
}

// GetActiveStatus reports whether the license is activated for env.
func (r *LicenseRecord) GetActiveStatus(env Environment) bool {
	return r.ActiveStatus[env]
}

func (r *LicenseRecord) SetActiveStatus(env Environment, active bool) {
	if r.ActiveStatus == nil {
		r.ActiveStatus = make(map[Environment]bool, len(Environments))
	}
	r.ActiveStatus[env] = active
}

func (r *LicenseRecord) SetStatus(s Status) { r.Status = s }

func (r *LicenseRecord) SetKey(key string) { r.LicenseKey = strings.TrimSpace(key) }

func (r *LicenseRecord) SetExpires(expires string) { r.Expires = strings.TrimSpace(expires) }

// Reset returns the record to defaults. The installed version and the
// activation domain describe the site, not the key, and survive.
func (r *LicenseRecord) Reset() {
	version, domain := r.CurrentVersion, r.Domain
	*r = *DefaultRecord()
	r.CurrentVersion = version
	r.Domain = domain
}

// IsValid reports whether the stored status allows updates.
func (r *LicenseRecord) IsValid() bool {
	return r.Status.IsValid()
}

// Clone returns a deep copy.
func (r *LicenseRecord) Clone() *LicenseRecord {
	out := *r
	out.ActiveStatus = make(map[Environment]bool, len(r.ActiveStatus))
	for k, v := range r.ActiveStatus {
		out.ActiveStatus[k] = v
	}
	return &out
}

// storedRecord is the legacy option layout: active flags as "yes"/"no".
type storedRecord struct {
	LicenseKey     string                 `json:"license_key"`
	LicenseStatus  string                 `json:"license_status"`
	LicenseExpires string                 `json:"license_expires"`
	CurrentVersion string                 `json:"current_version"`
	Environment    string                 `json:"environment"`
	ActiveStatus   map[string]interface{} `json:"active_status"`
	Domain         string                 `json:"domain"`
}

func (r LicenseRecord) MarshalJSON() ([]byte, error) {
	active := make(map[string]interface{}, len(Environments))
	for _, env := range Environments {
		active[string(env)] = yesNo(r.ActiveStatus[env])
	}
	return json.Marshal(storedRecord{
		LicenseKey:     r.LicenseKey,
		LicenseStatus:  string(r.Status),
		LicenseExpires: r.Expires,
		CurrentVersion: r.CurrentVersion,
		Environment:    string(r.Environment),
		ActiveStatus:   active,
		Domain:         r.Domain,
	})
}

func (r *LicenseRecord) UnmarshalJSON(data []byte) error {
	rec, _, err := decodeRecord(data)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// decodeRecord reads a stored record, normalizing legacy values. The second
// return is the raw status when it was not a known status and was replaced
// with inactive.
func decodeRecord(data []byte) (*LicenseRecord, string, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, "", fmt.Errorf("decode license record: %w", err)
	}

	rec := DefaultRecord()
	rec.LicenseKey = stored.LicenseKey
	rec.Expires = stored.LicenseExpires
	rec.CurrentVersion = stored.CurrentVersion
	rec.Domain = stored.Domain

	if env, err := ParseEnvironment(stored.Environment); err == nil {
		rec.Environment = env
	}

	var unknown string
	if s, ok := licenseapi.ParseStatus(stored.LicenseStatus); ok {
		rec.Status = s
	} else if strings.TrimSpace(stored.LicenseStatus) != "" {
		unknown = stored.LicenseStatus
	}

	for _, env := range Environments {
		rec.ActiveStatus[env] = NormalizeActiveFlag(stored.ActiveStatus[string(env)])
	}
	return rec, unknown, nil
}

// NormalizeActiveFlag interprets the loosely typed active flags found in
// stored options. true, "yes", "true", "1" (any case) and 1 are active;
// everything else, including nil, is not.
func NormalizeActiveFlag(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "true", "1":
			return true
		}
		return false
	case json.Number:
		return strings.TrimSpace(t.String()) == "1"
	case float64:
		return t == 1
	case float32:
		return t == 1
	case int:
		return t == 1
	case int64:
		return t == 1
	case int32:
		return t == 1
	case uint:
		return t == 1
	case uint64:
		return t == 1
	default:
		return false
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
