// Package semver handles the vMAJOR.MINOR.PATCH versions exchanged between
// the coordinator and the transfer engine.
package semver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

var re = regexp.MustCompile(`^v(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`)

var ErrParse = errors.New("could not parse provided string into semantic version")

// Comparison describes how a version relates to another one.
type Comparison int

const (
	CompareEqual Comparison = iota
	CompareOldMajor
	CompareNewMajor
	CompareOldMinor
	CompareNewMinor
	CompareOldPatch
	CompareNewPatch
)

var comparisonNames = map[Comparison]string{
	CompareEqual:    "Equal",
	CompareOldMajor: "OldMajor",
	CompareNewMajor: "NewMajor",
	CompareOldMinor: "OldMinor",
	CompareNewMinor: "NewMinor",
	CompareOldPatch: "OldPatch",
	CompareNewPatch: "NewPatch",
}

func (c Comparison) Name() string {
	return comparisonNames[c]
}

type Version struct {
	Major int `json:"major,omitempty"`
	Minor int `json:"minor,omitempty"`
	Patch int `json:"patch,omitempty"`
}

// Parse reads a version of the form vMAJOR.MINOR.PATCH. Leading zeros are
// rejected.
func Parse(s string) (Version, error) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return Version{}, ErrParse
	}
	var parts [3]int
	for i, part := range m[1:] {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether a client at version v can talk to an engine at
// version engine. Versions below v1 must match on minor as well.
func (v Version) Compatible(engine Version) bool {
	if v.Major != engine.Major {
		return false
	}
	return v.Major != 0 || v.Minor == engine.Minor
}

// Compare reports how v relates to other, looking at the most significant
// component that differs.
func (v Version) Compare(other Version) Comparison {
	steps := []struct {
		mine, theirs int
		older, newer Comparison
	}{
		{v.Major, other.Major, CompareOldMajor, CompareNewMajor},
		{v.Minor, other.Minor, CompareOldMinor, CompareNewMinor},
		{v.Patch, other.Patch, CompareOldPatch, CompareNewPatch},
	}
	for _, s := range steps {
		switch {
		case s.mine < s.theirs:
			return s.older
		case s.mine > s.theirs:
			return s.newer
		}
	}
	return CompareEqual
}

// GetVersion fetches the version served as JSON at url.
func GetVersion(ctx context.Context, url string) (Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Version{}, fmt.Errorf("creating version request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Version{}, fmt.Errorf("fetching version from engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Version{}, fmt.Errorf("fetching version from engine: unexpected status %s", resp.Status)
	}
	var version Version
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return Version{}, fmt.Errorf("decoding version response from engine: %w", err)
	}
	return version, nil
}
