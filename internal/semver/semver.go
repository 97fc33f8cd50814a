// Package semver implements the ordered triple version comparisons used to
// gate engine self-update (required_engine_version vs installed version).
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is an ordered (major, minor, patch) triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Zero is the unset version, always less than every parsed version.
var Zero = Version{}

// Parse reads a dot-separated version string. Extra trailing components
// (e.g. "1.2.3.4" or "1.2.3-rc1") are tolerated and ignored beyond patch.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return Version{}, fmt.Errorf("semver: empty version string")
	}

	parts := strings.Split(s, ".")
	if len(parts) < 1 {
		return Version{}, fmt.Errorf("semver: invalid version %q", s)
	}

	var v Version
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, f := range fields {
		if i >= len(parts) {
			break
		}
		n, err := parseLeadingInt(parts[i])
		if err != nil {
			return Version{}, fmt.Errorf("semver: invalid version %q: %w", s, err)
		}
		*f = n
	}
	return v, nil
}

// parseLeadingInt parses the leading run of digits in s (tolerating a
// trailing pre-release/build suffix like "3-rc1" or "3+build5").
func parseLeadingInt(s string) (int, error) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("no leading digits in %q", s)
	}
	return strconv.Atoi(s[:end])
}

// MustParse panics on a parse error; intended for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0, or 1 if a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	switch {
	case a.Major != b.Major:
		return cmpInt(a.Major, b.Major)
	case a.Minor != b.Minor:
		return cmpInt(a.Minor, b.Minor)
	default:
		return cmpInt(a.Patch, b.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a < b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// AtLeast reports whether a >= b.
func AtLeast(a, b Version) bool { return Compare(a, b) >= 0 }

// String renders the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// UnmarshalYAML accepts a scalar string ("2.1.0") and will fail on anything
// else, matching how manifest.yml declares required_engine_version.
func (v *Version) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML renders the version back to its string form.
func (v Version) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}
