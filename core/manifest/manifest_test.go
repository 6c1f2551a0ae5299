package manifest

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/Breadcord/Breadcord/core/permissions"
)

const validManifest = `
manifest_version = 1

[module]
id = "weather"
name = "Weather"
description = "Posts weather reports on request."
version = "1.2.0"
license = "MIT"
authors = ["Jane Doe"]
requirements = ["aiohttp>=3.0", "lib==1.0"]
permissions = ["read_messages", "send_messages"]
`

func TestParseValidManifest(t *testing.T) {
	mf, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if mf.ID != "weather" {
		t.Errorf("expected id weather, got %q", mf.ID)
	}
	if mf.Version.String() != "1.2.0" {
		t.Errorf("expected version 1.2.0, got %s", mf.Version)
	}
	if mf.License != "MIT" {
		t.Errorf("expected license MIT, got %q", mf.License)
	}
	if len(mf.Requirements) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(mf.Requirements))
	}
	if mf.Requirements[0].Name != "aiohttp" {
		t.Errorf("expected requirement name aiohttp, got %q", mf.Requirements[0].Name)
	}
	if !mf.Permissions.Has(permissions.SendMessages) {
		t.Errorf("expected send_messages in grant %s", mf.Permissions)
	}
	if mf.Permissions.Has(permissions.BanMembers) {
		t.Errorf("grant %s should not include ban_members", mf.Permissions)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	a, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	b, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if a.ID != b.ID || !a.Version.Equal(b.Version) || a.License != b.License {
		t.Errorf("parses differ: %+v vs %+v", a, b)
	}
}

func TestParseLicenseDefault(t *testing.T) {
	mf, err := Parse([]byte(`
manifest_version = 1
[module]
id = "bare"
name = "Bare"
version = "0.1.0"
`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if mf.License != "No license specified" {
		t.Errorf("expected license default, got %q", mf.License)
	}
}

func TestParseFieldErrors(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing manifest_version",
			doc:   "[module]\nid = \"m\"\nname = \"M\"\nversion = \"1.0.0\"\n",
			field: "manifest_version",
		},
		{
			name:  "missing id",
			doc:   "manifest_version = 1\n[module]\nname = \"M\"\nversion = \"1.0.0\"\n",
			field: "id",
		},
		{
			name:  "uppercase id",
			doc:   "manifest_version = 1\n[module]\nid = \"Weather\"\nname = \"M\"\nversion = \"1.0.0\"\n",
			field: "id",
		},
		{
			name:  "id with digits",
			doc:   "manifest_version = 1\n[module]\nid = \"mod2\"\nname = \"M\"\nversion = \"1.0.0\"\n",
			field: "id",
		},
		{
			name:  "missing version",
			doc:   "manifest_version = 1\n[module]\nid = \"m\"\nname = \"M\"\n",
			field: "version",
		},
		{
			name:  "invalid version",
			doc:   "manifest_version = 1\n[module]\nid = \"m\"\nname = \"M\"\nversion = \"not-a-version\"\n",
			field: "version",
		},
		{
			name:  "unrecognized permission",
			doc:   "manifest_version = 1\n[module]\nid = \"m\"\nname = \"M\"\nversion = \"1.0.0\"\npermissions = [\"launch_missiles\"]\n",
			field: "permissions",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			var me *Error
			if !errors.As(err, &me) {
				t.Fatalf("expected *manifest.Error, got %T: %v", err, err)
			}
			if me.Field != tc.field {
				t.Errorf("expected error on field %q, got %q (%v)", tc.field, me.Field, err)
			}
		})
	}
}

func TestParseUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte("manifest_version = 2\n[module]\nid = \"m\"\nname = \"M\"\nversion = \"1.0.0\"\n"))
	if !errors.Is(err, ErrUnsupportedManifestVersion) {
		t.Fatalf("expected ErrUnsupportedManifestVersion, got %v", err)
	}
	var me *Error
	if errors.As(err, &me) {
		t.Errorf("unsupported version should not be a field error, got %v", me)
	}
}

func TestParseRequirement(t *testing.T) {
	cases := []struct {
		spec     string
		name     string
		matches  string
		excludes string
	}{
		{spec: "aiohttp>=3.0", name: "aiohttp", matches: "3.9.1", excludes: "2.0.0"},
		{spec: "lib==1.0", name: "lib", matches: "1.0.0", excludes: "2.0.0"},
		{spec: "requests", name: "requests", matches: "0.0.1"},
		{spec: "some_pkg<4.0, >=3.0", name: "some_pkg", matches: "3.5.0", excludes: "4.0.0"},
	}
	for _, tc := range cases {
		req, err := ParseRequirement(tc.spec)
		if err != nil {
			t.Fatalf("ParseRequirement(%q): %v", tc.spec, err)
		}
		if req.Name != tc.name {
			t.Errorf("ParseRequirement(%q): expected name %q, got %q", tc.spec, tc.name, req.Name)
		}
		if !checkVersion(t, req, tc.matches) {
			t.Errorf("ParseRequirement(%q): expected %s to satisfy", tc.spec, tc.matches)
		}
		if tc.excludes != "" && checkVersion(t, req, tc.excludes) {
			t.Errorf("ParseRequirement(%q): expected %s to be excluded", tc.spec, tc.excludes)
		}
	}

	if _, err := ParseRequirement(""); err == nil {
		t.Error("expected error for empty specifier")
	}
	if _, err := ParseRequirement(">=3.0"); err == nil {
		t.Error("expected error for specifier without a name")
	}
}

func checkVersion(t *testing.T, req Requirement, raw string) bool {
	t.Helper()
	v, err := semver.NewVersion(raw)
	if err != nil {
		t.Fatalf("bad test version %q: %v", raw, err)
	}
	return req.Constraint.Check(v)
}
