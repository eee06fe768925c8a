package inventory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// headerReadLimit is how much of a file is searched for header fields.
const headerReadLimit = 8 << 10

// Standard header field names.
const (
	HeaderPluginName  = "Plugin Name"
	HeaderThemeName   = "Theme Name"
	HeaderVersion     = "Version"
	HeaderAuthor      = "Author"
	HeaderAuthorURI   = "Author URI"
	HeaderRequiresWP  = "Requires at least"
	HeaderTestedWP    = "Tested up to"
	HeaderRequiresPHP = "Requires PHP"
	HeaderTextDomain  = "Text Domain"
	HeaderSlug        = "Slug"
)

// HeaderReader yields the declared header fields of a product file.
type HeaderReader interface {
	ReadHeaders(path string, fields []string) (map[string]string, error)
}

// FileHeaderReader parses "Field: value" lines from the top of a file, the
// way plugin and theme headers are declared.
type FileHeaderReader struct{}

func (FileHeaderReader) ReadHeaders(path string, fields []string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, headerReadLimit))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read headers from %s: %w", path, err)
	}
	return ParseHeaders(string(buf), fields), nil
}

// ParseHeaders extracts the named fields from src. Missing fields map to "".
func ParseHeaders(src string, fields []string) map[string]string {
	src = strings.ReplaceAll(src, "\r", "\n")
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		out[field] = ""
		re, err := headerPattern(field)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(src); m != nil {
			out[field] = cleanHeaderValue(m[1])
		}
	}
	return out
}

func headerPattern(field string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?mi)^[ \t/*#@]*` + regexp.QuoteMeta(field) + `:(.*)$`)
}

func cleanHeaderValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSpace(strings.TrimSuffix(v, "?>"))
	v = strings.TrimSpace(strings.TrimSuffix(v, "*/"))
	return v
}
