package identity

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNormalize_FlatCustomerID(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"alice","text":["hi","there"]}`))
	if res.CustomerID != "alice" {
		t.Errorf("expected alice, got %q", res.CustomerID)
	}
	if res.Rule != RuleFlat {
		t.Errorf("expected flat rule, got %s", res.Rule)
	}
	if len(res.Text) != 2 || res.Text[1] != "there" {
		t.Errorf("unexpected text: %v", res.Text)
	}
}

func TestNormalize_FlatBeatsNestedProfile(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"flat","customer":{"profile_id":"profile","id":"nested"}}`))
	if res.CustomerID != "flat" {
		t.Errorf("flat customer_id must win, got %q", res.CustomerID)
	}
	for _, want := range []string{"flat", "profile", "nested"} {
		found := false
		for _, a := range res.Aliases {
			if a == want {
				found = true
			}
		}
		if !found {
			t.Errorf("alias %q missing from %v", want, res.Aliases)
		}
	}
}

func TestNormalize_NestedPrefersProfileID(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer":{"id":"nested","profile_id":"profile"}}`))
	if res.CustomerID != "profile" {
		t.Errorf("expected profile, got %q", res.CustomerID)
	}
	if res.Rule != RuleNested {
		t.Errorf("expected nested rule, got %s", res.Rule)
	}

	res = n.Normalize(decode(t, `{"customer":{"id":"nested"}}`))
	if res.CustomerID != "nested" {
		t.Errorf("expected nested, got %q", res.CustomerID)
	}
}

func TestNormalize_NumericCustomerID(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":12345}`))
	if res.CustomerID != "12345" {
		t.Errorf("expected 12345, got %q", res.CustomerID)
	}
}

func TestNormalize_LegacyFieldParsed(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"bob","data":"{\"text\":[\"line one\",\"line two\"]}"}`))
	if len(res.Text) != 2 || res.Text[0] != "line one" {
		t.Errorf("unexpected text: %v", res.Text)
	}
	if res.CustomerID != "bob" {
		t.Errorf("expected bob, got %q", res.CustomerID)
	}
}

func TestNormalize_LegacyFieldStringText(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"bob","data":"{\"text\":\"single\"}"}`))
	if len(res.Text) != 1 || res.Text[0] != "single" {
		t.Errorf("unexpected text: %v", res.Text)
	}
}

func TestNormalize_LegacyFieldUnparseable(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"bob","data":"not { json"}`))
	if len(res.Text) != 1 || res.Text[0] != "not { json" {
		t.Errorf("raw legacy string should become one line, got %v", res.Text)
	}
	if res.CustomerID != "bob" {
		t.Errorf("expected bob, got %q", res.CustomerID)
	}
}

func TestNormalize_LegacyFieldCarriesCustomerID(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"data":"{\"customer_id\":\"carol\",\"text\":\"hey\"}"}`))
	if res.CustomerID != "carol" || res.Rule != RuleLegacy {
		t.Errorf("expected carol via legacy rule, got %q (%s)", res.CustomerID, res.Rule)
	}
}

func TestNormalize_ContentText(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer_id":"dan","content":{"text":"from content"}}`))
	if len(res.Text) != 1 || res.Text[0] != "from content" {
		t.Errorf("unexpected text: %v", res.Text)
	}
}

func TestNormalize_Unresolved(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(decode(t, `{"text":"orphan"}`))
	if res.CustomerID != "" {
		t.Errorf("expected empty id, got %q", res.CustomerID)
	}
	if res.Rule != RuleUnresolved {
		t.Errorf("expected unresolved, got %s", res.Rule)
	}
}

func TestNormalize_NilPayload(t *testing.T) {
	n := New(Config{Logger: testLogger()})
	res := n.Normalize(nil)
	if res.CustomerID != "" || res.Rule != RuleUnresolved {
		t.Errorf("nil payload should be unresolved, got %+v", res)
	}
}

func TestNormalize_ResolverMapsUUID(t *testing.T) {
	table := NewAliasTable(map[string]string{
		"3F2B6F9E-0000-4000-8000-000000000001": "demo-customer",
	})
	n := New(Config{Resolver: table, Logger: testLogger()})
	res := n.Normalize(decode(t, `{"customer":{"id":"3f2b6f9e-0000-4000-8000-000000000001"}}`))
	if res.CustomerID != "demo-customer" {
		t.Errorf("expected demo-customer, got %q", res.CustomerID)
	}
	found := false
	for _, a := range res.Aliases {
		if a == "3f2b6f9e-0000-4000-8000-000000000001" {
			found = true
		}
	}
	if !found {
		t.Errorf("raw uuid should stay an alias, got %v", res.Aliases)
	}
}

func TestChain_FirstMatchWins(t *testing.T) {
	c := Chain{
		nil,
		ResolverFunc(func(raw string) (string, bool) { return "", false }),
		ResolverFunc(func(raw string) (string, bool) { return "first", true }),
		ResolverFunc(func(raw string) (string, bool) { return "second", true }),
	}
	id, ok := c.Resolve("x")
	if !ok || id != "first" {
		t.Errorf("expected first, got %q %v", id, ok)
	}
}

func TestLoadAliasTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	content := "aliases:\n  abc-123: alice\n  DEF-456: bob\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadAliasTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", table.Len())
	}
	if id, ok := table.Resolve("def-456"); !ok || id != "bob" {
		t.Errorf("expected bob, got %q %v", id, ok)
	}
}

func TestLoadAliasTable_MissingFile(t *testing.T) {
	table, err := LoadAliasTable(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table")
	}
}

func TestLoadAliasTable_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("aliases: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAliasTable(path); err == nil {
		t.Error("expected parse error")
	}
}
