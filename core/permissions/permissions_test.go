package permissions

import "testing"

func TestNewGrantRejectsUnrecognized(t *testing.T) {
	if _, err := NewGrant(ReadMessages, Tag("launch_missiles")); err == nil {
		t.Fatal("expected error for unrecognized tag")
	}
	g, err := NewGrant(ReadMessages, SendMessages)
	if err != nil {
		t.Fatalf("NewGrant returned error: %v", err)
	}
	if !g.Has(ReadMessages) || !g.Has(SendMessages) {
		t.Errorf("grant %s missing granted tags", g)
	}
	if g.Has(BanMembers) {
		t.Errorf("grant %s should not cover ban_members", g)
	}
}

func TestZeroGrantIsEmpty(t *testing.T) {
	var g Grant
	if g.Len() != 0 {
		t.Errorf("zero grant has %d tags", g.Len())
	}
	if g.Has(ReadMessages) {
		t.Error("zero grant should not cover any tag")
	}
}

func TestParseGrant(t *testing.T) {
	g, err := ParseGrant([]string{"read_messages", "add_reactions"})
	if err != nil {
		t.Fatalf("ParseGrant returned error: %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 tags, got %d", g.Len())
	}
	if _, err := ParseGrant([]string{"read_messages", "bogus"}); err == nil {
		t.Error("expected error for unrecognized tag")
	}
}

func TestRecognizedIsSorted(t *testing.T) {
	tags := Recognized()
	if len(tags) != 11 {
		t.Fatalf("expected 11 recognized tags, got %d", len(tags))
	}
	for i := 1; i < len(tags); i++ {
		if tags[i-1] >= tags[i] {
			t.Errorf("tags not sorted: %s before %s", tags[i-1], tags[i])
		}
	}
}
