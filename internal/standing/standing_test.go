package standing

import "testing"

func TestMatchExact(t *testing.T) {
	m := New([]Rule{{Item: "cron-key", ReasonMatch: "cron:nightly"}})
	r, ok := m.Match("cron-key", "cron:nightly")
	if !ok || r.Item != "cron-key" {
		t.Fatalf("expected exact match, got (%+v, %v)", r, ok)
	}
	if _, ok := m.Match("cron-key", "cron:nightly-extra"); ok {
		t.Fatal("expected exact pattern not to match a longer reason")
	}
}

func TestMatchTrailingWildcard(t *testing.T) {
	m := New([]Rule{{Item: "cron-key", ReasonMatch: "cron:*"}})

	cases := []struct {
		reason string
		want   bool
	}{
		{"cron:nightly", true},
		{"cron:", true},
		{"cron", false},
		{"notcron:x", false},
	}
	for _, c := range cases {
		_, ok := m.Match("cron-key", c.reason)
		if ok != c.want {
			t.Errorf("reason %q: got %v, want %v", c.reason, ok, c.want)
		}
	}
}

func TestMatchFooStarBoundary(t *testing.T) {
	m := New([]Rule{{Item: "x", ReasonMatch: "foo*"}})
	cases := map[string]bool{
		"foo":    true,
		"foobar": true,
		"foo:x":  true,
		"fo":     false,
		"barfoo": false,
	}
	for reason, want := range cases {
		_, got := m.Match("x", reason)
		if got != want {
			t.Errorf("reason %q: got %v, want %v", reason, got, want)
		}
	}
}

func TestEmptyReasonNeverMatches(t *testing.T) {
	m := New([]Rule{{Item: "x", ReasonMatch: "*"}})
	if _, ok := m.Match("x", ""); ok {
		t.Fatal("expected empty reason never to match")
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	m := New([]Rule{
		{Item: "x", ReasonMatch: "a*", Note: "first"},
		{Item: "x", ReasonMatch: "abc", Note: "second"},
	})
	r, ok := m.Match("x", "abc")
	if !ok || r.Note != "first" {
		t.Fatalf("expected first rule to win, got %+v", r)
	}
}

func TestItemMustMatchExactly(t *testing.T) {
	m := New([]Rule{{Item: "cron-key", ReasonMatch: "*"}})
	if _, ok := m.Match("other-key", "anything"); ok {
		t.Fatal("expected item mismatch to prevent match")
	}
}
