package catalog

import (
	"errors"
	"testing"
)

func TestPolicyAllows(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		policy Policy
		tool   string
		want   bool
	}{
		{name: "no policy", policy: Policy{}, tool: "read", want: true},
		{name: "allow-only includes", policy: Policy{Allow: []string{"read"}}, tool: "read", want: true},
		{name: "allow-only excludes", policy: Policy{Allow: []string{"read"}}, tool: "write", want: false},
		{name: "deny-only includes", policy: Policy{Deny: []string{"write"}}, tool: "write", want: false},
		{name: "deny-only excludes", policy: Policy{Deny: []string{"write"}}, tool: "read", want: true},
		{name: "both: allow wins over deny", policy: Policy{Allow: []string{"write"}, Deny: []string{"write"}}, tool: "write", want: true},
		{name: "both: deny ignored for others", policy: Policy{Allow: []string{"read"}, Deny: []string{"write"}}, tool: "list", want: false},
		{name: "empty allow hides everything", policy: Policy{Allow: []string{}}, tool: "read", want: false},
		{name: "empty deny hides nothing", policy: Policy{Deny: []string{}}, tool: "read", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Allows(tc.tool); got != tc.want {
				t.Fatalf("Allows(%q) = %v, want %v", tc.tool, got, tc.want)
			}
		})
	}
}

func TestPolicyCheckNamesTheCause(t *testing.T) {
	t.Parallel()

	if err := (Policy{Allow: []string{"read"}}).check("write"); !errors.Is(err, ErrToolNotAllowed) {
		t.Fatalf("allow-list rejection = %v, want ErrToolNotAllowed", err)
	}
	if err := (Policy{Deny: []string{"write"}}).check("write"); !errors.Is(err, ErrToolDenied) {
		t.Fatalf("deny-list rejection = %v, want ErrToolDenied", err)
	}
	if err := (Policy{}).check("write"); err != nil {
		t.Fatalf("zero policy rejected tool: %v", err)
	}
	if !(Policy{}).IsZero() || (Policy{Deny: []string{}}).IsZero() {
		t.Fatalf("IsZero mismatch")
	}
}
