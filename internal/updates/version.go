package updates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pre-compiled regexes for performance (avoid recompilation on each call)
var (
	versionRe = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?(?:-([0-9A-Za-z.\-]+))?(?:\+([0-9A-Za-z.\-]+))?$`)
	rcNumRe   = regexp.MustCompile(`rc\.?(\d+)`)
)

// Version is a semantic version as published in plugin and theme headers.
// Headers frequently omit the patch ("1.2") or carry a fourth revision
// component ("1.2.3.4"); both are accepted.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Revision   int
	Prerelease string
	Build      string
}

// ParseVersion parses a version string into a Version struct
func ParseVersion(versionStr string) (*Version, error) {
	trimmed := strings.TrimSpace(versionStr)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "v"), "V")

	matches := versionRe.FindStringSubmatch(trimmed)
	if len(matches) == 0 {
		return nil, fmt.Errorf("invalid version format: %q", versionStr)
	}

	nums := make([]int, 4)
	for i := 0; i < 4; i++ {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid version component %q in %q: %w", matches[i+1], versionStr, err)
		}
		nums[i] = n
	}

	return &Version{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Revision:   nums[3],
		Prerelease: matches[5],
		Build:      matches[6],
	}, nil
}

// String returns the string representation of the version
func (v *Version) String() string {
	version := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Revision != 0 {
		version += fmt.Sprintf(".%d", v.Revision)
	}
	if v.Prerelease != "" {
		version += "-" + v.Prerelease
	}
	if v.Build != "" {
		version += "+" + v.Build
	}
	return version
}

// Compare compares two versions
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Build metadata never affects ordering.
func (v *Version) Compare(other *Version) int {
	if v.Major != other.Major {
		return compareInts(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return compareInts(v.Minor, other.Minor)
	}
	if v.Patch != other.Patch {
		return compareInts(v.Patch, other.Patch)
	}
	if v.Revision != other.Revision {
		return compareInts(v.Revision, other.Revision)
	}

	if v.Prerelease == "" && other.Prerelease != "" {
		return 1 // v is release, other is prerelease
	}
	if v.Prerelease != "" && other.Prerelease == "" {
		return -1 // v is prerelease, other is release
	}
	if v.Prerelease != other.Prerelease {
		vRC := extractRCNumber(v.Prerelease)
		otherRC := extractRCNumber(other.Prerelease)
		if vRC >= 0 && otherRC >= 0 {
			return compareInts(vRC, otherRC)
		}
		return strings.Compare(v.Prerelease, other.Prerelease)
	}

	return 0
}

// IsNewerThan returns true if v is newer than other
func (v *Version) IsNewerThan(other *Version) bool {
	return v.Compare(other) > 0
}

// IsPrerelease returns true if this is a prerelease version
func (v *Version) IsPrerelease() bool {
	return v.Prerelease != ""
}

// IsNewer reports whether candidate is strictly greater than current.
// An unparsable current version is treated as 0.0.0 so a freshly installed
// product without a version header can still be offered an update; an
// unparsable candidate is an error.
func IsNewer(candidate, current string) (bool, error) {
	next, err := ParseVersion(candidate)
	if err != nil {
		return false, fmt.Errorf("parse candidate version: %w", err)
	}
	installed, err := ParseVersion(NormalizeVersionString(current))
	if err != nil {
		installed = &Version{}
	}
	return next.IsNewerThan(installed), nil
}

// NormalizeVersionString maps blank input to "0.0.0" and strips a leading "v".
func NormalizeVersionString(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	if version == "" {
		return "0.0.0"
	}
	return version
}

// compareInts compares two integers
func compareInts(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// extractRCNumber extracts the RC number from a prerelease string like "rc.9" or "rc9"
func extractRCNumber(prerelease string) int {
	matches := rcNumRe.FindStringSubmatch(strings.ToLower(prerelease))
	if len(matches) > 1 {
		num, err := strconv.Atoi(matches[1])
		if err == nil {
			return num
		}
	}
	return -1
}
