package model

import (
	"fmt"
	"strconv"
	"strings"
)

// A Version identifies a version of the database schema.
type Version struct {
	Major int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Patch)
}

// Before reports whether v should be ordered before v2.
func (v Version) Before(v2 Version) bool {
	if v.Major != v2.Major {
		return v.Major < v2.Major
	}
	return v.Patch < v2.Patch
}

// ParseVersion parses a string of the form "major.patch" into a Version.
func ParseVersion(s string) (Version, error) {
	major, patch, found := strings.Cut(s, ".")
	if !found {
		return Version{}, fmt.Errorf("invalid version format: expected major.patch, got %s", s)
	}

	mv, err := strconv.Atoi(major)
	if err != nil {
		return Version{}, fmt.Errorf("invalid major version: %w", err)
	}
	pv, err := strconv.Atoi(patch)
	if err != nil {
		return Version{}, fmt.Errorf("invalid patch version: %w", err)
	}
	return Version{Major: mv, Patch: pv}, nil
}
