/*
 * Copyright (c) 2020 Go IoC
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 */

package di

import (
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StringValueResolver resolves placeholders inside a literal value (e.g. "${some.prop}") before
// it reaches the type converter. The core never implements one itself; it only consumes whatever
// is registered with Container.SetStringValueResolver.
type StringValueResolver interface {
	ResolveStringValue(value string) (string, error)
}

// aliasRegistry maintains the alias -> canonical-name mapping described in SPEC_FULL.md §4.1.
// One instance lives per Container (see DESIGN.md "Deliberate departure from the teacher").
type aliasRegistry struct {
	mu      sync.RWMutex
	aliases map[string]string // alias -> canonical
}

func newAliasRegistry() *aliasRegistry {
	return &aliasRegistry{aliases: make(map[string]string)}
}

// registerAlias records alias -> canonical. It fails if the alias chain would cycle back to
// canonical, and is a no-op (not an error) if the exact same mapping is registered twice.
func (r *aliasRegistry) registerAlias(canonical, alias string) error {
	if alias == canonical {
		r.mu.Lock()
		delete(r.aliases, alias)
		r.mu.Unlock()
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.aliases[alias]; ok {
		if existing == canonical {
			return nil // idempotent re-registration
		}
		logrus.WithFields(logrus.Fields{
			"alias":            alias,
			"existing target":  existing,
			"requested target": canonical,
		}).Warn("Alias already registered to a different bean, overwriting it")
	}
	if r.wouldCycle(alias, canonical) {
		return pkgerrors.Errorf("cannot register alias '%s' for name '%s': circular reference", alias, canonical)
	}
	r.aliases[alias] = canonical
	return nil
}

// wouldCycle walks the alias chain starting at canonical looking for alias, under lock already
// held by the caller.
func (r *aliasRegistry) wouldCycle(alias, canonical string) bool {
	seen := map[string]bool{alias: true}
	cur := canonical
	for {
		target, ok := r.aliases[cur]
		if !ok {
			return false
		}
		if seen[target] {
			return true
		}
		if target == alias {
			return true
		}
		seen[cur] = true
		cur = target
	}
}

// canonicalName follows the alias chain to its fixed point. A name with no alias registered is
// already canonical and is returned unchanged.
func (r *aliasRegistry) canonicalName(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	cur := name
	for {
		target, ok := r.aliases[cur]
		if !ok || seen[cur] {
			return cur
		}
		seen[cur] = true
		cur = target
	}
}

// aliasesFor returns every alias that (transitively) resolves to canonical, for GetAliases.
func (r *aliasRegistry) aliasesFor(canonical string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []string
	for alias := range r.aliases {
		if r.canonicalNameLocked(alias) == canonical {
			result = append(result, alias)
		}
	}
	return result
}

func (r *aliasRegistry) canonicalNameLocked(name string) string {
	seen := map[string]bool{}
	cur := name
	for {
		target, ok := r.aliases[cur]
		if !ok || seen[cur] {
			return cur
		}
		seen[cur] = true
		cur = target
	}
}

// resolveAliases rewrites both sides of every mapping through resolver. If two distinct original
// aliases resolve to the same new alias string, the original alias that sorts first wins and a
// warning is logged for the dropped one, matching SPEC_FULL.md §4.1.
func (r *aliasRegistry) resolveAliases(resolver StringValueResolver) error {
	if resolver == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	originals := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		originals = append(originals, alias)
	}
	sort.Strings(originals)
	resolved := make(map[string]string, len(r.aliases))
	for _, alias := range originals {
		canonical := r.aliases[alias]
		newAlias, err := resolver.ResolveStringValue(alias)
		if err != nil {
			return err
		}
		newCanonical, err := resolver.ResolveStringValue(canonical)
		if err != nil {
			return err
		}
		if newAlias == "" || newCanonical == "" {
			delete(resolved, alias)
			continue
		}
		if existing, ok := resolved[newAlias]; ok && existing != newCanonical {
			logrus.WithFields(logrus.Fields{
				"alias":        newAlias,
				"kept target":  existing,
				"dropped target": newCanonical,
			}).Warn("Resolving aliases produced a collision, keeping the first resolution")
			continue
		}
		resolved[newAlias] = newCanonical
	}
	r.aliases = resolved
	return nil
}

func (r *aliasRegistry) removeAlias(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aliases, alias)
}

func (r *aliasRegistry) isAlias(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aliases[name]
	return ok
}
