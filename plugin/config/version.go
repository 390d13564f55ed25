package config

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// SchemaVersion is the newest config-version understood by the loader.
// Documents with the same major version and a version not newer than this
// one are accepted.
const SchemaVersion = "1.2.0"

// CanonicalVersion converts a plugin style version such as "1.2.0.1" into a
// semantic version. A fourth component is kept as build metadata, so
// "1.2.0.1" becomes "v1.2.0+1".
func CanonicalVersion(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return "", fmt.Errorf("%w: empty version", ErrUnsupportedVersion)
	}
	v := "v" + s
	if parts := strings.Split(s, "."); len(parts) == 4 {
		v = "v" + strings.Join(parts[:3], ".") + "+" + parts[3]
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%w: %q is not a version", ErrUnsupportedVersion, s)
	}
	return v, nil
}

// CheckVersion reports an error wrapping ErrUnsupportedVersion if a document
// declaring version s cannot be read.
func CheckVersion(s string) (string, error) {
	v, err := CanonicalVersion(s)
	if err != nil {
		return "", err
	}
	schema := "v" + SchemaVersion
	if semver.Major(v) != semver.Major(schema) {
		return v, fmt.Errorf("%w: %s has major version %s, want %s", ErrUnsupportedVersion, s, semver.Major(v), semver.Major(schema))
	}
	if semver.Compare(v, schema) > 0 {
		return v, fmt.Errorf("%w: %s is newer than %s", ErrUnsupportedVersion, s, SchemaVersion)
	}
	return v, nil
}
