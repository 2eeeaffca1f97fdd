// Package rpctype labels RPC methods as mutations or queries so the panel can
// group and filter traffic by intent.
package rpctype

import (
	"strings"
	"sync/atomic"
)

// Type is the intent category of an RPC method.
type Type string

const (
	// Unknown means no resolver could classify the method. It is a valid
	// answer, not an error.
	Unknown  Type = ""
	Mutation Type = "mutation"
	Query    Type = "query"
)

// Resolver maps a method name to a Type.
type Resolver func(method string) Type

var mutationVerbs = map[string]struct{}{
	"create":     {},
	"update":     {},
	"delete":     {},
	"add":        {},
	"remove":     {},
	"set":        {},
	"mark":       {},
	"regenerate": {},
}

var queryVerbs = map[string]struct{}{
	"list":   {},
	"get":    {},
	"me":     {},
	"search": {},
	"find":   {},
}

// Heuristic classifies dotted method names by their final segment:
// "api.users.create" is a mutation, "v2.items.list" a query. Names without
// a dot are never classified.
func Heuristic(method string) Type {
	idx := strings.LastIndexByte(method, '.')
	if idx < 0 {
		return Unknown
	}
	verb := strings.ToLower(method[idx+1:])
	if _, ok := mutationVerbs[verb]; ok {
		return Mutation
	}
	if _, ok := queryVerbs[verb]; ok {
		return Query
	}
	return Unknown
}

// Chain returns a resolver that asks each resolver in order and answers with
// the first non-Unknown result.
func Chain(resolvers ...Resolver) Resolver {
	return func(method string) Type {
		for _, r := range resolvers {
			if r == nil {
				continue
			}
			if t := r(method); t != Unknown {
				return t
			}
		}
		return Unknown
	}
}

// Classifier holds the single active resolver. The zero value is not usable;
// construct with NewClassifier.
type Classifier struct {
	current atomic.Pointer[Resolver]
}

// NewClassifier returns a classifier backed by r, or by Heuristic when r is nil.
func NewClassifier(r Resolver) *Classifier {
	c := &Classifier{}
	c.SetResolver(r)
	return c
}

// Classify resolves method with whichever resolver is active right now.
// A custom resolver returning Unknown is final: there is no implicit
// fallback to Heuristic.
func (c *Classifier) Classify(method string) Type {
	return (*c.current.Load())(method)
}

// SetResolver replaces the active resolver. Passing nil restores Heuristic.
// Records classified before the swap keep their type.
func (c *Classifier) SetResolver(r Resolver) {
	if r == nil {
		r = Heuristic
	}
	c.current.Store(&r)
}
