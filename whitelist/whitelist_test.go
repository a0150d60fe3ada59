package whitelist

import (
	"strings"
	"testing"
)

func TestRuleMatchesExactMember(t *testing.T) {
	r := Rule{Owner: "java/lang/System", Name: "exit", Descriptor: "(I)V", Action: Forbid}
	if !r.matches("java/lang/System", "exit", "(I)V") {
		t.Fatal("expected exact match")
	}
	if r.matches("java/lang/System", "gc", "()V") {
		t.Fatal("did not expect match on different member")
	}
}

func TestRuleMatchesWildcardName(t *testing.T) {
	r := Rule{Owner: "java/lang/System"}
	if !r.matches("java/lang/System", "anything", "()V") {
		t.Fatal("expected owner-only rule to match any member")
	}
	if r.matches("java/lang/Other", "anything", "()V") {
		t.Fatal("did not expect match on different owner")
	}
}

func TestLookupPrefersMostSpecific(t *testing.T) {
	tbl := &Table{
		Rules: []Rule{
			{Owner: "java/lang/System", Action: Allow},
			{Owner: "java/lang/System", Name: "exit", Action: Forbid},
			{Owner: "java/lang/System", Name: "exit", Descriptor: "(I)V", Action: Stub},
		},
	}
	got, ok := tbl.Lookup("java/lang/System", "exit", "(I)V")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Action != Stub {
		t.Fatalf("Lookup returned action %v, want Stub (most specific)", got.Action)
	}
}

func TestLookupNoMatch(t *testing.T) {
	tbl := &Table{Rules: []Rule{{Owner: "java/lang/System", Action: Forbid}}}
	if _, ok := tbl.Lookup("java/lang/Other", "foo", "()V"); ok {
		t.Fatal("did not expect a match for an unrelated owner")
	}
}

func TestMergeConcatenatesAndPreservesOriginal(t *testing.T) {
	base := &Table{Pinned: []string{"a"}, Rules: []Rule{{Owner: "a", Action: Allow}}}
	extra := &Table{Pinned: []string{"b"}, Rules: []Rule{{Owner: "b", Action: Forbid}}}

	merged := base.Merge(extra)

	if len(merged.Pinned) != 2 || merged.Pinned[0] != "a" || merged.Pinned[1] != "b" {
		t.Fatalf("Pinned = %v, want [a b]", merged.Pinned)
	}
	if len(merged.Rules) != 2 {
		t.Fatalf("Rules = %v, want 2 entries", merged.Rules)
	}
	if len(base.Pinned) != 1 || len(base.Rules) != 1 {
		t.Fatal("Merge must not mutate the receiver")
	}
}

func TestUnmapped(t *testing.T) {
	tbl := &Table{Unmapped_: []string{"java/io/Serializable"}}
	if !tbl.Unmapped("java/io/Serializable") {
		t.Fatal("expected Serializable to be unmapped")
	}
	if tbl.Unmapped("com/acme/Widget") {
		t.Fatal("did not expect Widget to be unmapped")
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{"allow": Allow, "forbid": Forbid, "stub": Stub, "thunk": Thunk}
	for s, want := range cases {
		got, err := ParseAction(s)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseAction(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseAction("bogus"); err == nil {
		t.Fatal("expected an error for an unknown action name")
	}
}

func TestLoadDocument(t *testing.T) {
	doc := `
pinned:
  - java/lang/Object
templates:
  - java/util/MissingResourceException
unmapped:
  - java/io/Serializable
rules:
  - owner: java/lang/System
    name: exit
    descriptor: "(I)V"
    action: forbid
    message: "exit is not allowed"
`
	tbl, err := LoadDocument(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(tbl.Pinned) != 1 || tbl.Pinned[0] != "java/lang/Object" {
		t.Fatalf("Pinned = %v", tbl.Pinned)
	}
	if len(tbl.Rules) != 1 {
		t.Fatalf("Rules = %v, want 1", tbl.Rules)
	}
	rule := tbl.Rules[0]
	if rule.Action != Forbid || rule.Message != "exit is not allowed" {
		t.Fatalf("rule = %+v", rule)
	}
}

func TestLoadDocumentRejectsUnknownAction(t *testing.T) {
	doc := `
rules:
  - owner: java/lang/System
    name: exit
    action: nope
`
	if _, err := LoadDocument(strings.NewReader(doc)); err == nil {
		t.Fatal("expected an error for an unknown action in a rule")
	}
}
