package licenseapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Action names one license server endpoint.
type Action string

const (
	ActionActivate     Action = "activate"
	ActionDeactivate   Action = "deactivate"
	ActionCheckLicense Action = "check_license"
	ActionCheckUpdate  Action = "check_update"
	ActionConnect      Action = "connect"
	ActionProduct      Action = "product"
	ActionProducts     Action = "products"
)

var knownActions = map[Action]bool{
	ActionActivate:     true,
	ActionDeactivate:   true,
	ActionCheckLicense: true,
	ActionCheckUpdate:  true,
	ActionConnect:      true,
	ActionProduct:      true,
	ActionProducts:     true,
}

// Valid reports whether a is one of the server's actions.
func (a Action) Valid() bool {
	return knownActions[a]
}

// Method returns GET for the read-only catalog actions and POST for everything else.
func (a Action) Method() string {
	switch a {
	case ActionProduct, ActionProducts:
		return http.MethodGet
	default:
		return http.MethodPost
	}
}

// Request parameter names.
const (
	ParamSlug        = "slug"
	ParamLicenseKey  = "license_key"
	ParamDomain      = "domain"
	ParamVersion     = "version"
	ParamEnvironment = "environment"
	ParamEmail       = "email"
	ParamAPIKey      = "api_key"
	ParamAPISecret   = "api_secret"
)

// Params are the string parameters sent with an action.
type Params map[string]string

// Redacted returns a copy safe for logs: secrets keep only their last four characters.
func (p Params) Redacted() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch k {
		case ParamLicenseKey, ParamAPIKey, ParamAPISecret:
			out[k] = mask(v)
		default:
			out[k] = v
		}
	}
	return out
}

func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

// Status is a license status as reported by the server.
type Status string

const (
	StatusInactive       Status = "inactive"
	StatusDeactivated    Status = "deactivated"
	StatusActive         Status = "active"
	StatusExpiring       Status = "expiring"
	StatusExpired        Status = "expired"
	StatusValid          Status = "valid"
	StatusInvalid        Status = "invalid"
	StatusMaxActivations Status = "max_activations"
)

var statusLabels = map[Status]string{
	StatusInactive:       "License is inactive.",
	StatusDeactivated:    "License is deactivated.",
	StatusActive:         "License is active.",
	StatusExpiring:       "License is expiring soon.",
	StatusExpired:        "License has expired.",
	StatusValid:          "License key is valid.",
	StatusInvalid:        "License key is invalid.",
	StatusMaxActivations: "License key has reached its activation limit.",
}

// Label returns the admin-facing text for s, or "" for an unknown status.
func (s Status) Label() string {
	return statusLabels[s]
}

// IsValid reports whether s allows updates: only active and expiring licenses do.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusExpiring
}

// StatusOK is the status of informational responses (connect, product, products).
const StatusOK = "ok"

var knownStatuses = map[Status]bool{
	StatusInactive:       true,
	StatusDeactivated:    true,
	StatusActive:         true,
	StatusExpiring:       true,
	StatusExpired:        true,
	StatusValid:          true,
	StatusInvalid:        true,
	StatusMaxActivations: true,
}

// ParseStatus maps a wire value onto a known license status. Unknown values
// (including numbers sent where a string was expected) are rejected.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.TrimSpace(raw))
	if knownStatuses[s] {
		return s, true
	}
	return "", false
}

// Statuses lists every known license status.
func Statuses() []Status {
	out := make([]Status, 0, len(knownStatuses))
	for s := range knownStatuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Text is a string field that tolerates the loosely typed values PHP servers
// emit: JSON strings decode verbatim, null and false decode to "", and any
// other literal keeps its JSON text (so a numeric status never matches a
// known status).
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	switch string(trimmed) {
	case "null", "false", "":
		*t = ""
	default:
		*t = Text(trimmed)
	}
	return nil
}

func (t Text) String() string {
	return string(t)
}

// StringMap is a map field that accepts the empty JSON array PHP sends for an
// empty associative array.
type StringMap map[string]string

func (m *StringMap) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '[' || string(trimmed) == "null" || string(trimmed) == "false" {
		*m = nil
		return nil
	}
	var raw map[string]Text
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	*m = out
	return nil
}

// DomainInfo is the per-domain activation state in a license response.
type DomainInfo struct {
	Status Text `json:"status"`
}

// SoftwareDetails is the update metadata returned with check_update.
type SoftwareDetails struct {
	Name          Text            `json:"name,omitempty"`
	Slug          Text            `json:"slug,omitempty"`
	NewVersion    Text            `json:"new_version"`
	Package       Text            `json:"package,omitempty"`
	Homepage      Text            `json:"homepage,omitempty"`
	Tested        Text            `json:"tested,omitempty"`
	Requires      Text            `json:"requires,omitempty"`
	RequiresPHP   Text            `json:"requires_php,omitempty"`
	UpgradeNotice Text            `json:"upgrade_notice,omitempty"`
	Sections      StringMap       `json:"sections,omitempty"`
	Banners       StringMap       `json:"banners,omitempty"`
	Ratings       json.RawMessage `json:"ratings,omitempty"`
}

// CatalogProduct is one entry from the product/products actions.
type CatalogProduct struct {
	Slug        Text `json:"slug"`
	Name        Text `json:"name,omitempty"`
	Version     Text `json:"version,omitempty"`
	DownloadURL Text `json:"download_url,omitempty"`
	Homepage    Text `json:"homepage,omitempty"`
}

// Response is a decoded 200 response from the license server.
type Response struct {
	Status          Text             `json:"status"`
	Message         Text             `json:"message,omitempty"`
	Domain          *DomainInfo      `json:"domain,omitempty"`
	Expires         Text             `json:"expires,omitempty"`
	SoftwareDetails *SoftwareDetails `json:"software_details,omitempty"`
	Product         *CatalogProduct  `json:"product,omitempty"`
	Products        []CatalogProduct `json:"products,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// LicenseStatus returns the authoritative license status carried by the
// response: domain.status when present, otherwise the top-level status.
func (r *Response) LicenseStatus() (Status, bool) {
	if r == nil {
		return "", false
	}
	if r.Domain != nil {
		return ParseStatus(string(r.Domain.Status))
	}
	return ParseStatus(string(r.Status))
}

// CheckResponseStatus accepts a response only if its status is "ok" or a known license status.
func CheckResponseStatus(r *Response) bool {
	if r == nil {
		return false
	}
	if strings.TrimSpace(string(r.Status)) == StatusOK {
		return true
	}
	_, ok := ParseStatus(string(r.Status))
	return ok
}
