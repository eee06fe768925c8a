package updates

import "testing"

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "full semver", input: "1.2.3", expected: "1.2.3"},
		{name: "v prefix", input: "v2.0.1", expected: "2.0.1"},
		{name: "missing patch", input: "1.2", expected: "1.2.0"},
		{name: "major only", input: "7", expected: "7.0.0"},
		{name: "revision component", input: "1.2.3.4", expected: "1.2.3.4"},
		{name: "prerelease and build", input: "3.1.0-rc.2+build.7", expected: "3.1.0-rc.2+build.7"},
		{name: "surrounding whitespace", input: "  1.0.0 ", expected: "1.0.0"},
		{name: "garbage", input: "latest", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v, err := ParseVersion(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseVersion(%q) expected error, got %v", tc.input, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) unexpected error: %v", tc.input, err)
			}
			if got := v.String(); got != tc.expected {
				t.Fatalf("ParseVersion(%q).String() = %q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.1", "1.2.0", 1},
		{"1.2.0", "1.2.0", 0},
		{"1.1.9", "1.2.0", -1},
		{"1.2", "1.2.0", 0},
		{"1.2.0.1", "1.2.0", 1},
		{"2.0.0", "2.0.0-rc.1", 1},
		{"2.0.0-rc.10", "2.0.0-rc.9", 1},
		{"2.0.0-beta", "2.0.0-alpha", 1},
		{"1.0.0+build.2", "1.0.0+build.1", 0},
	}

	for _, tc := range tests {
		a, err := ParseVersion(tc.a)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tc.a, err)
		}
		b, err := ParseVersion(tc.b)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tc.b, err)
		}
		if got := a.Compare(b); got != tc.want {
			t.Fatalf("Compare(%s, %s) = %d, expected %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestIsNewer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		candidate, current string
		want               bool
	}{
		{"1.2.1", "1.2.0", true},
		{"1.2.0", "1.2.0", false},
		{"1.1.9", "1.2.0", false},
		{"0.1.0", "", true},
		{"1.0.0", "not-a-version", true},
	}
	for _, tc := range cases {
		got, err := IsNewer(tc.candidate, tc.current)
		if err != nil {
			t.Fatalf("IsNewer(%q, %q) unexpected error: %v", tc.candidate, tc.current, err)
		}
		if got != tc.want {
			t.Fatalf("IsNewer(%q, %q) = %v, expected %v", tc.candidate, tc.current, got, tc.want)
		}
	}

	if _, err := IsNewer("soon", "1.0.0"); err == nil {
		t.Fatal("expected error for unparsable candidate")
	}
}

func TestExtractRCNumber(t *testing.T) {
	t.Parallel()

	if got := extractRCNumber("rc.9"); got != 9 {
		t.Fatalf("extractRCNumber(rc.9) = %d, expected 9", got)
	}
	if got := extractRCNumber("RC3"); got != 3 {
		t.Fatalf("extractRCNumber(RC3) = %d, expected 3", got)
	}
	if got := extractRCNumber("beta"); got != -1 {
		t.Fatalf("extractRCNumber(beta) = %d, expected -1", got)
	}
}
