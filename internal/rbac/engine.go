package rbac

import (
	"sort"
	"strings"
	"time"
)

// Reason explains an authorization outcome for audit purposes.
type Reason string

const (
	ReasonGranted      Reason = "granted"
	ReasonExplicitDeny Reason = "explicit_deny"
	ReasonNoGrant      Reason = "no_grant"
	ReasonNoRoles      Reason = "no_roles"
	ReasonError        Reason = "error"
)

// Decision is the outcome of a single authorization check.
type Decision struct {
	PrincipalID int64     `json:"principal_id"`
	Permission  string    `json:"permission"`
	Allowed     bool      `json:"allowed"`
	Reason      Reason    `json:"reason"`
	Roles       []string  `json:"roles,omitempty"`
	Method      string    `json:"method,omitempty"`
	Path        string    `json:"path,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// EffectiveSet is the resolved permission set of one principal.
type EffectiveSet struct {
	Roles   []string `json:"roles"`
	Granted []string `json:"granted"`
	Denied  []string `json:"denied"`

	granted map[string]struct{}
	denied  map[string]struct{}
}

// ComputeEffective folds the edges of all held roles into an effective set.
// An explicit deny from any role overrides a grant from any other role.
func ComputeEffective(roles []string, edges []EdgeRow) EffectiveSet {
	granted := make(map[string]struct{})
	denied := make(map[string]struct{})
	for _, e := range edges {
		key := NormalizeKey(e.PermissionKey)
		if e.Granted {
			granted[key] = struct{}{}
		} else {
			denied[key] = struct{}{}
		}
	}
	set := EffectiveSet{
		Roles:   append([]string(nil), roles...),
		granted: granted,
		denied:  denied,
	}
	for key := range granted {
		if _, ok := denied[key]; !ok {
			set.Granted = append(set.Granted, key)
		}
	}
	for key := range denied {
		set.Denied = append(set.Denied, key)
	}
	sort.Strings(set.Roles)
	sort.Strings(set.Granted)
	sort.Strings(set.Denied)
	return set
}

// index rebuilds lookup maps after the set was decoded from a cache.
func (s *EffectiveSet) index() {
	if s.granted != nil && s.denied != nil {
		return
	}
	s.granted = make(map[string]struct{}, len(s.Granted))
	for _, k := range s.Granted {
		s.granted[k] = struct{}{}
	}
	s.denied = make(map[string]struct{}, len(s.Denied))
	for _, k := range s.Denied {
		s.denied[k] = struct{}{}
	}
}

// Evaluate reports whether key is permitted and why.
func (s *EffectiveSet) Evaluate(key string) (bool, Reason) {
	s.index()
	key = NormalizeKey(key)
	if len(s.Roles) == 0 {
		return false, ReasonNoRoles
	}
	if _, ok := s.denied[key]; ok {
		return false, ReasonExplicitDeny
	}
	if _, ok := s.granted[key]; ok {
		return true, ReasonGranted
	}
	return false, ReasonNoGrant
}

// Permitted reports whether key is in the effective set.
func (s *EffectiveSet) Permitted(key string) bool {
	ok, _ := s.Evaluate(key)
	return ok
}

// HasAny reports whether at least one of keys is permitted.
func (s *EffectiveSet) HasAny(keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if s.Permitted(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether every key is permitted.
func (s *EffectiveSet) HasAll(keys ...string) bool {
	for _, k := range keys {
		if !s.Permitted(k) {
			return false
		}
	}
	return true
}

// NormalizeKey trims and lower-cases a catalog key.
func NormalizeKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}
