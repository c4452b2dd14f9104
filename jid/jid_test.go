package jid

import "testing"

func TestParseFullJID(t *testing.T) {
	j, err := Parse("bob@localhost/home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Node() != "bob" || j.Domain() != "localhost" || j.Resource() != "home" {
		t.Fatalf("unexpected parts: %+v", j)
	}
	if got, want := j.String(), "bob@localhost/home"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseBareJID(t *testing.T) {
	j, err := Parse("alice@localhost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !j.IsBare() {
		t.Fatalf("expected bare JID")
	}
	if j.IsFullWithUser() {
		t.Fatalf("bare JID must not be full-with-user")
	}
}

func TestParseServerOnlyJID(t *testing.T) {
	j, err := Parse("localhost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !j.IsServer() {
		t.Fatalf("expected server-only JID")
	}
}

func TestParseRejectsEmptyParts(t *testing.T) {
	cases := []string{"", "@localhost", "bob@", "bob@localhost/"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) expected error, got none", c)
		}
	}
}

func TestBareStripsResource(t *testing.T) {
	j, err := Parse("bob@localhost/home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bare := j.Bare()
	if !bare.IsBare() || bare.String() != "bob@localhost" {
		t.Fatalf("Bare() = %+v", bare)
	}
}

func TestEqual(t *testing.T) {
	a, _ := Parse("bob@localhost/home")
	b, _ := Parse("bob@localhost/home")
	c, _ := Parse("bob@localhost/work")
	if !a.Equal(b) {
		t.Fatalf("expected equal JIDs")
	}
	if a.Equal(c) {
		t.Fatalf("expected unequal JIDs")
	}
}

type fakeChecker struct{ known map[string]bool }

func (f fakeChecker) JIDExists(bare string) (bool, error) { return f.known[bare], nil }

func TestExists(t *testing.T) {
	j, _ := Parse("bob@localhost")
	checker := fakeChecker{known: map[string]bool{"bob@localhost": true}}
	if !j.Exists(checker) {
		t.Fatalf("expected bob@localhost to exist")
	}
	j2, _ := Parse("nobody@localhost")
	if j2.Exists(checker) {
		t.Fatalf("expected nobody@localhost to not exist")
	}
}
