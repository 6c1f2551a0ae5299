package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustSchema(t *testing.T, doc string) *Schema {
	t.Helper()
	schema, err := ParseSchema([]byte(doc))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	return schema
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "settings.toml"), "host")
}

func TestParseSchema(t *testing.T) {
	schema := mustSchema(t, `
[retries]
default = 3
description = "How many times to retry."
min = 0
max = 10

[greeting]
default = "hello"

[mode]
default = "fast"
enum = ["fast", "safe"]
`)
	if len(schema.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(schema.Entries))
	}
	// Entries come back sorted by key.
	if schema.Entries[0].Key != "greeting" || schema.Entries[0].Type != TypeString {
		t.Errorf("unexpected first entry %+v", schema.Entries[0])
	}
	if schema.Entries[2].Key != "retries" || schema.Entries[2].Type != TypeInt {
		t.Errorf("unexpected retries entry %+v", schema.Entries[2])
	}
}

func TestParseSchemaRejectsMissingDefault(t *testing.T) {
	if _, err := ParseSchema([]byte("[broken]\ndescription = \"no default\"\n")); err == nil {
		t.Fatal("expected error for entry without default")
	}
}

func TestParseSchemaRejectsInvalidDefault(t *testing.T) {
	if _, err := ParseSchema([]byte("[retries]\ndefault = 99\nmax = 10\n")); err == nil {
		t.Fatal("expected error for default violating its own constraints")
	}
}

func TestMergeAppliesDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := s.Merge("weather", mustSchema(t, "[units]\ndefault = \"metric\"\n")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	v, err := s.Get("weather", "units")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "metric" {
		t.Errorf("expected default metric, got %v", v)
	}
}

func TestMergeRejectsReservedNamespace(t *testing.T) {
	s := newTestStore(t)
	err := s.Merge("host", mustSchema(t, "[x]\ndefault = 1\n"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestMergeValidatesPersistedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("[weather]\nretries = \"lots\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	err := s.Merge("weather", mustSchema(t, "[retries]\ndefault = 3\n"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected type mismatch error, got %v", err)
	}
}

func TestMergeKeepsValidPersistedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("[weather]\nretries = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Merge("weather", mustSchema(t, "[retries]\ndefault = 3\nmax = 10\n")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	v, err := s.Get("weather", "retries")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != int64(7) {
		t.Errorf("expected persisted 7, got %v (%T)", v, v)
	}
}

func TestSetValidatesValue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Merge("m", mustSchema(t, "[retries]\ndefault = 3\nmin = 0\nmax = 10\n")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := s.Set("m", "retries", int64(5)); err != nil {
		t.Fatalf("Set valid value: %v", err)
	}
	if err := s.Set("m", "retries", int64(99)); err == nil {
		t.Error("expected error for value above max")
	}
	if err := s.Set("m", "retries", "many"); err == nil {
		t.Error("expected error for wrong type")
	}
	if err := s.Set("m", "unknown", 1); err == nil {
		t.Error("expected error for undeclared key")
	}
}

func TestReleaseKeepsPersistedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := NewStore(path)
	schema := mustSchema(t, "[units]\ndefault = \"metric\"\n")
	if err := s.Merge("weather", schema); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := s.Set("weather", "units", "imperial"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.Release("weather")
	if _, err := s.Get("weather", "units"); err == nil {
		t.Error("expected Get to fail after Release")
	}

	// A fresh store sees the value persisted before the release.
	s2 := NewStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s2.Merge("weather", schema); err != nil {
		t.Fatalf("re-Merge: %v", err)
	}
	v, err := s2.Get("weather", "units")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "imperial" {
		t.Errorf("expected persisted imperial, got %v", v)
	}
}

func TestNamespaceDecode(t *testing.T) {
	s := newTestStore(t)
	if err := s.Merge("echo", mustSchema(t, "[trigger]\ndefault = \"!echo\"\n\n[reply]\ndefault = \"\"\n")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	var out struct {
		Trigger string `mapstructure:"trigger"`
		Reply   string `mapstructure:"reply"`
	}
	if err := s.Namespace("echo").Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Trigger != "!echo" {
		t.Errorf("expected trigger !echo, got %q", out.Trigger)
	}
}
