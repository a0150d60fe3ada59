// Package whitelist holds the static policy data §4.2 of the
// specification describes: which host types stay in the host namespace,
// which members are forbidden, stubbed, or thunked, and the pin/template
// sets the Class Resolver needs. The canonical table is a Go literal
// (DefaultPolicy) so it is data, not a module-level singleton mutated at
// process scope — see SPEC_FULL.md's note on the source's global policy
// tables. A supplementary table can be layered on top via a YAML document
// for deployments that need to extend the defaults without a rebuild.
package whitelist

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Action is the four-way disposition §4.2 assigns to a policy table row.
type Action int

const (
	// Allow passes the reference through untouched.
	Allow Action = iota
	// Forbid raises a rule violation at rewrite time: the call is reported
	// as an error diagnostic, so the whole class fails to load. No throw
	// is injected into the rewritten bytecode.
	Forbid
	// Stub replaces the call's effect with an inert return, discarding
	// arguments the callee would have consumed.
	Stub
	// Thunk rewrites a virtual call into a static call to a deterministic
	// helper in the sandbox runtime.
	Thunk
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Forbid:
		return "forbid"
	case Stub:
		return "stub"
	case Thunk:
		return "thunk"
	default:
		return "unknown"
	}
}

// StubBehavior describes what a Stub rule leaves behind once the original
// call's arguments are discarded, matching the "discard receiver, push
// null" / "discard, push empty enumeration" phrasing of §4.2.
type StubBehavior int

const (
	StubPushNull StubBehavior = iota
	StubPushEmptyEnumeration
	StubPopOnly
	StubPushFalse
)

// MemberRef identifies one (owner, name, descriptor) triple, the same
// shape as the Member Reference of §3's data model.
type MemberRef struct {
	Owner      string
	Name       string
	Descriptor string
}

func (m MemberRef) String() string {
	return fmt.Sprintf("%s.%s%s", m.Owner, m.Name, m.Descriptor)
}

// Rule is one row of the policy table. Name and Descriptor may be "" to
// mean "any" (e.g. "every other Class method returning a reflection
// type"); rules are matched most-specific first by Table.Lookup.
type Rule struct {
	Owner      string
	Name       string
	Descriptor string
	Action     Action
	Thunk      MemberRef    // target for Action == Thunk
	Stub       StubBehavior // behavior for Action == Stub
	Message    string       // replaces the owner.name+descriptor text after "Disallowed reference to API; "
}

func (r Rule) matches(owner, name, descriptor string) bool {
	if r.Owner != owner {
		return false
	}
	if r.Name != "" && r.Name != name {
		return false
	}
	if r.Descriptor != "" && r.Descriptor != descriptor {
		return false
	}
	return true
}

func (r Rule) specificity() int {
	n := 1
	if r.Name != "" {
		n++
	}
	if r.Descriptor != "" {
		n++
	}
	return n
}

// Table is a Whitelist & Policy Tables instance: the pin set, the
// template set, the set of host types whose references pass through the
// Remapper unchanged, and the ordered member-level policy rules.
type Table struct {
	Pinned    []string
	Templates []string
	Unmapped_ []string // host types passed through by the whitelist, independent of member rules
	Rules     []Rule
}

// Unmapped implements resolver.Whitelist.
func (t *Table) Unmapped(hostName string) bool {
	for _, n := range t.Unmapped_ {
		if n == hostName {
			return true
		}
	}
	return false
}

// Lookup returns the most specific rule matching (owner, name,
// descriptor), or ok=false if the table has no opinion (in which case the
// enforcer in emit.DisallowNonDeterministicMethods treats the call as
// Allow unless owner itself is unwhitelisted, in which case the Remapper
// will still redirect it into the sandbox namespace like any other
// unlisted reference).
func (t *Table) Lookup(owner, name, descriptor string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range t.Rules {
		if !r.matches(owner, name, descriptor) {
			continue
		}
		if !found || r.specificity() > best.specificity() {
			best = r
			found = true
		}
	}
	return best, found
}

// Merge layers extra's rules on top of t by appending them after t's.
// Lookup's specificity tie-break prefers the first rule reaching the
// highest specificity, so on a tie t's rule wins; callers that want an
// override to win at equal specificity should prepend it instead — Merge
// itself just concatenates, leaving ordering intent to the caller.
func (t *Table) Merge(extra *Table) *Table {
	merged := &Table{
		Pinned:    append(append([]string{}, t.Pinned...), extra.Pinned...),
		Templates: append(append([]string{}, t.Templates...), extra.Templates...),
		Unmapped_: append(append([]string{}, t.Unmapped_...), extra.Unmapped_...),
		Rules:     append(append([]Rule{}, t.Rules...), extra.Rules...),
	}
	return merged
}

// document is the YAML shape supplementary policy documents are loaded
// from (see SPEC_FULL.md's Configuration section).
type document struct {
	Pinned    []string `yaml:"pinned"`
	Templates []string `yaml:"templates"`
	Unmapped  []string `yaml:"unmapped"`
	Rules     []struct {
		Owner      string `yaml:"owner"`
		Name       string `yaml:"name"`
		Descriptor string `yaml:"descriptor"`
		Action     string `yaml:"action"`
		ThunkOwner string `yaml:"thunkOwner"`
		ThunkName  string `yaml:"thunkName"`
		ThunkDesc  string `yaml:"thunkDescriptor"`
		Message    string `yaml:"message"`
	} `yaml:"rules"`
}

// LoadDocument parses a supplementary YAML policy document, the format
// described in SPEC_FULL.md's Configuration section.
func LoadDocument(r io.Reader) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode whitelist document: %w", err)
	}

	t := &Table{
		Pinned:    doc.Pinned,
		Templates: doc.Templates,
		Unmapped_: doc.Unmapped,
	}
	for _, dr := range doc.Rules {
		action, err := ParseAction(dr.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %s.%s: %w", dr.Owner, dr.Name, err)
		}
		t.Rules = append(t.Rules, Rule{
			Owner:      dr.Owner,
			Name:       dr.Name,
			Descriptor: dr.Descriptor,
			Action:     action,
			Thunk:      MemberRef{Owner: dr.ThunkOwner, Name: dr.ThunkName, Descriptor: dr.ThunkDesc},
			Message:    dr.Message,
		})
	}
	return t, nil
}

// ParseAction parses the four action names a YAML policy document may use.
func ParseAction(s string) (Action, error) {
	switch s {
	case "allow":
		return Allow, nil
	case "forbid":
		return Forbid, nil
	case "stub":
		return Stub, nil
	case "thunk":
		return Thunk, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}
