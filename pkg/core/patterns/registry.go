// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterns

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Constructor creates a new instance of a pattern.
type Constructor func() Pattern

// Registry of patterns by name. The order of registration is the order in which patterns are applied.
type Registry struct {
	constructors map[string]Constructor
	names        []string
}

// NewRegistry creates a registry with all the patterns of this package.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(OpToIdentityName, func() Pattern { return OpToIdentity{} })
	r.Register(PostNReplName, func() Pattern { return PostNRepl{} })
	r.Register(SubtractArg1GradOpName, func() Pattern { return SubtractArg1GradOp{} })
	r.Register(SumToAddName, func() Pattern { return SumToAdd{} })
	return r
}

// Register a pattern constructor. It returns an error if the name is already registered.
func (r *Registry) Register(name string, constructor Constructor) error {
	if _, found := r.constructors[name]; found {
		return errors.Errorf("pattern %q registered twice", name)
	}
	r.constructors[name] = constructor
	r.names = append(r.names, name)
	return nil
}

// Names of the registered patterns, in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Set of enabled pattern names, in the order they are applied.
type Set []string

// Default returns the set of all registered patterns.
func Default(r *Registry) Set {
	return Set(r.Names())
}

// Parse a comma-separated list of pattern names. "default" (or an empty string) selects all patterns, and
// "none" selects none. The patterns are kept in registration order.
func Parse(r *Registry, list string) (Set, error) {
	list = strings.TrimSpace(list)
	switch strings.ToLower(list) {
	case "", "default", "all":
		return Default(r), nil
	case "none":
		return Set{}, nil
	}
	enabled := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if _, found := r.constructors[name]; !found {
			return nil, errors.Errorf("unknown pattern %q, registered patterns are %v", name, r.names)
		}
		enabled[name] = true
	}
	var set Set
	for _, name := range r.names {
		if enabled[name] {
			set = append(set, name)
		}
	}
	return set, nil
}

// Patterns instantiates the patterns of the set.
func (s Set) Patterns(r *Registry) []Pattern {
	patterns := make([]Pattern, 0, len(s))
	for _, name := range s {
		if constructor, found := r.constructors[name]; found {
			patterns = append(patterns, constructor())
		}
	}
	return patterns
}

// Has returns whether the pattern name is in the set.
func (s Set) Has(name string) bool {
	return slices.Contains(s, name)
}
