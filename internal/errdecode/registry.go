package errdecode

import (
	"fmt"
	"sort"
)

// Registry is an immutable selector index. Build it once at startup and share
// it freely.
type Registry struct {
	bySelector map[Selector]FailureSignature
}

// NewRegistry indexes sigs together with the standard Error and Panic
// failures. Two different signatures sharing a selector is an error.
func NewRegistry(sigs ...FailureSignature) (*Registry, error) {
	r := &Registry{bySelector: make(map[Selector]FailureSignature, len(sigs)+2)}
	for _, s := range append([]FailureSignature{StandardError, StandardPanic}, sigs...) {
		if prev, ok := r.bySelector[s.Selector]; ok {
			if prev.Canonical() == s.Canonical() {
				continue
			}
			return nil, fmt.Errorf("errdecode: selector %s shared by %s and %s", s.Selector, prev.Canonical(), s.Canonical())
		}
		r.bySelector[s.Selector] = s
	}
	return r, nil
}

// ParseRegistry parses each "Name(types)" entry and builds a Registry.
func ParseRegistry(sigs []string) (*Registry, error) {
	parsed := make([]FailureSignature, 0, len(sigs))
	for _, s := range sigs {
		fs, err := ParseSignature(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, fs)
	}
	return NewRegistry(parsed...)
}

// Lookup returns the signature registered for sel.
func (r *Registry) Lookup(sel Selector) (FailureSignature, bool) {
	if r == nil {
		return FailureSignature{}, false
	}
	s, ok := r.bySelector[sel]
	return s, ok
}

// Len returns the number of registered signatures.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bySelector)
}

// Names returns the canonical signatures in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.bySelector))
	for _, s := range r.bySelector {
		out = append(out, s.Canonical())
	}
	sort.Strings(out)
	return out
}
