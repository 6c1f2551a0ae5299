// Package manifest parses and validates module manifests.
//
// A manifest is a TOML document with a mandatory manifest_version discriminator
// and a [module] table describing the module's identity, version, third-party
// requirements and declared permissions:
//
//	manifest_version = 1
//
//	[module]
//	id = "weather"
//	name = "Weather"
//	description = "Posts weather reports on request."
//	version = "1.2.0"
//	license = "MIT"
//	authors = ["Jane Doe"]
//	requirements = ["aiohttp>=3.0"]
//	permissions = ["read_messages", "send_messages"]
package manifest

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"

	"github.com/Breadcord/Breadcord/core/permissions"
)

// SupportedManifestVersion is the manifest format version this host understands.
const SupportedManifestVersion = 1

// ErrUnsupportedManifestVersion marks manifests written for a newer host.
// Callers can report "module requires a newer host" instead of a generic
// parse failure.
var ErrUnsupportedManifestVersion = errors.New("unsupported manifest version")

// Error is a manifest validation failure naming the offending field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest field %q: %s", e.Field, e.Reason)
}

var (
	idPattern      = regexp.MustCompile(`^[a-z_]+$`)
	depNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Requirement is a third-party dependency specifier: a name plus an optional
// version constraint. An absent constraint matches any version.
type Requirement struct {
	Name       string
	Constraint *semver.Constraints
	Raw        string
}

func (r Requirement) String() string { return r.Raw }

// Manifest is a module's parsed, validated metadata. Immutable once parsed.
type Manifest struct {
	ID           string
	Name         string
	Description  string
	Version      *semver.Version
	License      string
	Authors      []string
	Requirements []Requirement
	Permissions  permissions.Grant
}

type document struct {
	ManifestVersion int       `toml:"manifest_version"`
	Module          rawModule `toml:"module"`
}

type rawModule struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Description  string   `toml:"description"`
	Version      string   `toml:"version"`
	License      string   `toml:"license"`
	Authors      []string `toml:"authors"`
	Requirements []string `toml:"requirements"`
	Permissions  []string `toml:"permissions"`
}

// ParseFile reads and parses a manifest file.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw manifest content. Parsing the same content
// twice yields equal manifests.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Field: "(document)", Reason: err.Error()}
	}

	if doc.ManifestVersion == 0 {
		return nil, &Error{Field: "manifest_version", Reason: "field required"}
	}
	if doc.ManifestVersion != SupportedManifestVersion {
		return nil, fmt.Errorf("%w: got %d, host supports %d",
			ErrUnsupportedManifestVersion, doc.ManifestVersion, SupportedManifestVersion)
	}

	raw := doc.Module

	if err := validateLength("id", raw.ID, 1, 32); err != nil {
		return nil, err
	}
	if !idPattern.MatchString(raw.ID) {
		return nil, &Error{Field: "id", Reason: "must contain only lowercase letters and underscores"}
	}
	if err := validateLength("name", strings.TrimSpace(raw.Name), 1, 64); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(raw.Description)
	if len(description) > 128 {
		return nil, &Error{Field: "description", Reason: "must be at most 128 characters"}
	}

	if raw.Version == "" {
		return nil, &Error{Field: "version", Reason: "field required"}
	}
	version, err := semver.NewVersion(raw.Version)
	if err != nil {
		return nil, &Error{Field: "version", Reason: fmt.Sprintf("invalid version %q: %v", raw.Version, err)}
	}

	license := strings.TrimSpace(raw.License)
	if license == "" {
		license = "No license specified"
	}

	for _, author := range raw.Authors {
		if err := validateLength("authors", strings.TrimSpace(author), 1, 32); err != nil {
			return nil, err
		}
	}

	requirements := make([]Requirement, 0, len(raw.Requirements))
	for _, spec := range raw.Requirements {
		req, err := ParseRequirement(spec)
		if err != nil {
			return nil, &Error{Field: "requirements", Reason: err.Error()}
		}
		requirements = append(requirements, req)
	}

	grant, err := permissions.ParseGrant(raw.Permissions)
	if err != nil {
		return nil, &Error{Field: "permissions", Reason: err.Error()}
	}

	return &Manifest{
		ID:           raw.ID,
		Name:         strings.TrimSpace(raw.Name),
		Description:  description,
		Version:      version,
		License:      license,
		Authors:      append([]string(nil), raw.Authors...),
		Requirements: requirements,
		Permissions:  grant,
	}, nil
}

// ParseRequirement parses a dependency specifier such as "aiohttp>=3.0",
// "lib==1.0" or a bare "aiohttp".
func ParseRequirement(spec string) (Requirement, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Requirement{}, fmt.Errorf("empty requirement specifier")
	}

	split := strings.IndexAny(spec, "<>=!~^")
	name, constraintStr := spec, ""
	if split >= 0 {
		name = strings.TrimSpace(spec[:split])
		constraintStr = strings.TrimSpace(spec[split:])
	}
	if !depNamePattern.MatchString(name) {
		return Requirement{}, fmt.Errorf("invalid requirement name %q", name)
	}

	if constraintStr == "" {
		constraintStr = "*"
	}
	// Pin specifiers use "==" on the wire; the constraint grammar spells it "=".
	constraintStr = strings.ReplaceAll(constraintStr, "==", "=")

	constraint, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return Requirement{}, fmt.Errorf("invalid version constraint in %q: %w", spec, err)
	}

	return Requirement{Name: name, Constraint: constraint, Raw: spec}, nil
}

func validateLength(field, value string, min, max int) error {
	if len(value) < min {
		if min == 1 {
			return &Error{Field: field, Reason: "field required"}
		}
		return &Error{Field: field, Reason: fmt.Sprintf("must be at least %d characters", min)}
	}
	if len(value) > max {
		return &Error{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}
