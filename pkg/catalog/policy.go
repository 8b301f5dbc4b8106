package catalog

import "slices"

// Policy restricts which of a backend's tools are visible and callable.
//
// A nil list is absent; a non-nil empty list is present. When Allow is
// present it is authoritative and Deny is ignored.
type Policy struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Allows reports whether name passes the policy.
func (p Policy) Allows(name string) bool {
	return p.check(name) == nil
}

// check returns the sentinel describing why name is rejected, or nil.
func (p Policy) check(name string) error {
	if p.Allow != nil {
		if !slices.Contains(p.Allow, name) {
			return ErrToolNotAllowed
		}
		return nil
	}
	if p.Deny != nil && slices.Contains(p.Deny, name) {
		return ErrToolDenied
	}
	return nil
}

// IsZero reports whether the policy has neither list.
func (p Policy) IsZero() bool {
	return p.Allow == nil && p.Deny == nil
}
