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
	"sync"

	"github.com/sirupsen/logrus"
)

// disposableAdapter wraps whatever destruction contract a bean exposes (DisposableBean, a named
// destroy method, or a destruction-aware post-processor claim) behind one uniform call.
type disposableAdapter struct {
	beanName string
	destroy  func() error
}

// singletonRegistry is the three-map cache described in SPEC_FULL.md §4.2. One instance lives per
// Container; the teacher kept this as package-level globals (DESIGN.md "Deliberate departure").
type singletonRegistry struct {
	mu sync.Mutex

	finished       map[string]interface{}
	earlyFactories map[string]func() (interface{}, error)
	earlyRefs      map[string]interface{}

	registered    []string
	registeredSet map[string]struct{}

	inCreation         map[string]struct{}
	inCreationExcluded map[string]struct{}

	suppressed []error

	inDestruction bool

	edgeMu         sync.Mutex
	dependentsOf   map[string]map[string]struct{} // A -> {B,C}: B,C depend on A
	dependenciesOf map[string]map[string]struct{} // B -> {A}: B depends on A

	disposableMu        sync.Mutex
	disposableAdapters  map[string]*disposableAdapter
	disposableAdaptersOrder []string

	log *logrus.Entry
}

func newSingletonRegistry(log *logrus.Entry) *singletonRegistry {
	return &singletonRegistry{
		finished:            make(map[string]interface{}),
		earlyFactories:      make(map[string]func() (interface{}, error)),
		earlyRefs:           make(map[string]interface{}),
		registeredSet:       make(map[string]struct{}),
		inCreation:          make(map[string]struct{}),
		inCreationExcluded:  make(map[string]struct{}),
		dependentsOf:        make(map[string]map[string]struct{}),
		dependenciesOf:      make(map[string]map[string]struct{}),
		disposableAdapters:  make(map[string]*disposableAdapter),
		log:                 log,
	}
}

// getSingleton is the non-creating lookup of SPEC_FULL.md §4.2.
func (r *singletonRegistry) getSingleton(name string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSingletonLocked(name, true)
}

func (r *singletonRegistry) getSingletonLocked(name string, allowEarlyReference bool) (interface{}, bool) {
	if instance, ok := r.finished[name]; ok {
		return instance, true
	}
	if _, creating := r.inCreation[name]; !creating {
		return nil, false
	}
	if instance, ok := r.earlyRefs[name]; ok {
		return instance, true
	}
	if !allowEarlyReference {
		return nil, false
	}
	if factory, ok := r.earlyFactories[name]; ok {
		instance, err := factory()
		if err != nil {
			return nil, false
		}
		r.earlyRefs[name] = instance
		delete(r.earlyFactories, name)
		return instance, true
	}
	return nil, false
}

// wasEarlyReferenceTaken reports whether earlyRefs[name] was actually materialized, as opposed to
// merely having had a factory installed. Used by the creation engine's Step 10 reconciliation
// (SPEC_FULL.md §9 Open Question 2).
func (r *singletonRegistry) wasEarlyReferenceTaken(name string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.earlyRefs[name]
	return instance, ok
}

// addEarlyFactory installs the early-exposure factory described in SPEC_FULL.md §4.2/§4.5 Step 7.
func (r *singletonRegistry) addEarlyFactory(name string, factory func() (interface{}, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.finished[name]; ok {
		return
	}
	r.earlyFactories[name] = factory
}

// beforeSingletonCreation marks name as in-creation; returns an error if it already is (an
// unresolvable self-cycle for a bean that can't be early-exposed).
func (r *singletonRegistry) beforeSingletonCreation(name string) error {
	if _, excluded := r.inCreationExcluded[name]; excluded {
		return nil
	}
	if _, already := r.inCreation[name]; already {
		return currentlyInCreationErr(name, nil)
	}
	r.inCreation[name] = struct{}{}
	return nil
}

func (r *singletonRegistry) afterSingletonCreation(name string) {
	if _, excluded := r.inCreationExcluded[name]; excluded {
		return
	}
	delete(r.inCreation, name)
}

func (r *singletonRegistry) isCurrentlyInCreation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inCreation[name]
	return ok
}

func (r *singletonRegistry) excludeFromInCreationCheck(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inCreationExcluded[name] = struct{}{}
}

// getOrCreateSingleton implements SPEC_FULL.md §4.2's creation algorithm end to end.
func (r *singletonRegistry) getOrCreateSingleton(name string, factory func() (interface{}, error)) (interface{}, error) {
	r.mu.Lock()
	if _, creating := r.inCreation[name]; creating {
		// Re-entrant call for a bean already being created: this is the only path that can
		// reach an installed early factory (SPEC_FULL.md §4.2/§4.5 Step 7), since the first
		// call for name never observes itself as in-creation.
		if instance, ok := r.getSingletonLocked(name, true); ok {
			r.mu.Unlock()
			return instance, nil
		}
		r.mu.Unlock()
		return nil, currentlyInCreationErr(name, nil)
	}
	if instance, ok := r.finished[name]; ok {
		r.mu.Unlock()
		return instance, nil
	}
	if r.inDestruction {
		r.mu.Unlock()
		return nil, beanNotAllowedErr(name)
	}
	if err := r.beforeSingletonCreation(name); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	r.log.WithField("beanID", name).Trace("Creating singleton instance")
	instance, err := factory()

	r.mu.Lock()
	r.afterSingletonCreation(name)
	if err != nil {
		if finished, ok := r.finished[name]; ok {
			// A concurrent creator published the singleton while factory() ran; prefer that
			// instance over surfacing this goroutine's failure.
			r.mu.Unlock()
			return finished, nil
		}
		r.recordSuppressedLocked(err)
		r.mu.Unlock()
		return nil, err
	}
	r.finished[name] = instance
	delete(r.earlyFactories, name)
	delete(r.earlyRefs, name)
	if _, ok := r.registeredSet[name]; !ok {
		r.registeredSet[name] = struct{}{}
		r.registered = append(r.registered, name)
	}
	r.mu.Unlock()
	return instance, nil
}

// registerSingleton pre-registers an already-built instance directly, bypassing all creation
// callbacks (GLOSSARY: "pre-registered" singleton record).
func (r *singletonRegistry) registerSingleton(name string, instance interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[name] = instance
	if _, ok := r.registeredSet[name]; !ok {
		r.registeredSet[name] = struct{}{}
		r.registered = append(r.registered, name)
	}
}

func (r *singletonRegistry) removeSingleton(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.finished, name)
	delete(r.earlyFactories, name)
	delete(r.earlyRefs, name)
	if _, ok := r.registeredSet[name]; ok {
		delete(r.registeredSet, name)
		for i, n := range r.registered {
			if n == name {
				r.registered = append(r.registered[:i], r.registered[i+1:]...)
				break
			}
		}
	}
}

func (r *singletonRegistry) containsSingleton(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.finished[name]
	return ok
}

func (r *singletonRegistry) singletonNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.registered))
	copy(out, r.registered)
	return out
}

func (r *singletonRegistry) singletonCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

// recordSuppressedLocked appends to the suppressed-causes list, capped at maxSuppressedCauses,
// under a lock already held by the caller.
func (r *singletonRegistry) recordSuppressedLocked(err error) {
	if len(r.suppressed) >= maxSuppressedCauses {
		return
	}
	r.suppressed = append(r.suppressed, err)
}

func (r *singletonRegistry) suppressedCauses() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.suppressed))
	copy(out, r.suppressed)
	return out
}

// registerDependentBean records that dependentBeanName depends on beanName, maintaining both
// directed maps jointly (SPEC_FULL.md §3 Dependency Edges).
func (r *singletonRegistry) registerDependentBean(beanName, dependentBeanName string) {
	if beanName == dependentBeanName {
		return
	}
	r.edgeMu.Lock()
	defer r.edgeMu.Unlock()
	if r.dependentsOf[beanName] == nil {
		r.dependentsOf[beanName] = make(map[string]struct{})
	}
	r.dependentsOf[beanName][dependentBeanName] = struct{}{}
	if r.dependenciesOf[dependentBeanName] == nil {
		r.dependenciesOf[dependentBeanName] = make(map[string]struct{})
	}
	r.dependenciesOf[dependentBeanName][beanName] = struct{}{}
}

func (r *singletonRegistry) dependentBeanNames(beanName string) []string {
	r.edgeMu.Lock()
	defer r.edgeMu.Unlock()
	set := r.dependentsOf[beanName]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

func (r *singletonRegistry) isDependent(beanName, dependentBeanName string) bool {
	return r.isDependentVisited(beanName, dependentBeanName, make(map[string]bool))
}

func (r *singletonRegistry) isDependentVisited(beanName, dependentBeanName string, visited map[string]bool) bool {
	r.edgeMu.Lock()
	deps := r.dependentsOf[beanName]
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	r.edgeMu.Unlock()
	for _, n := range names {
		if n == dependentBeanName {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		if r.isDependentVisited(n, dependentBeanName, visited) {
			return true
		}
	}
	return false
}

// registerDisposableBean registers the wrapper produced by the creation engine's Step 11.
func (r *singletonRegistry) registerDisposableBean(name string, destroy func() error) {
	r.disposableMu.Lock()
	defer r.disposableMu.Unlock()
	if _, exists := r.disposableAdapters[name]; !exists {
		r.disposableAdaptersOrder = append(r.disposableAdaptersOrder, name)
	}
	r.disposableAdapters[name] = &disposableAdapter{beanName: name, destroy: destroy}
}

// destroySingletons proceeds in reverse registration order, recursively destroying dependents of
// each name first, per SPEC_FULL.md §4.2. Destruction errors are caught and logged, never
// propagated (SPEC_FULL.md §7).
func (r *singletonRegistry) destroySingletons() {
	r.mu.Lock()
	r.inDestruction = true
	names := make([]string, len(r.registered))
	copy(names, r.registered)
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		r.destroySingleton(names[i])
	}

	r.mu.Lock()
	r.finished = make(map[string]interface{})
	r.earlyFactories = make(map[string]func() (interface{}, error))
	r.earlyRefs = make(map[string]interface{})
	r.registered = nil
	r.registeredSet = make(map[string]struct{})
	r.mu.Unlock()
}

// destroySingleton destroys dependents of name first, then name's own disposable adapter; no
// containment relation is tracked. name's own dependentsOf entry is detached *before* recursing, so
// a mutual dependency edge (the field-injection circular-reference scenario registers one in both
// directions) can't recurse back into a name that's already mid-destruction: real Spring's
// destroyBean breaks the same cycle by removing dependentBeanMap[name] before recursing.
func (r *singletonRegistry) destroySingleton(name string) {
	r.edgeMu.Lock()
	dependents := r.dependentsOf[name]
	delete(r.dependentsOf, name)
	dependentNames := make([]string, 0, len(dependents))
	for n := range dependents {
		dependentNames = append(dependentNames, n)
	}
	r.edgeMu.Unlock()

	for _, dependent := range dependentNames {
		r.destroySingleton(dependent)
	}

	r.disposableMu.Lock()
	adapter, ok := r.disposableAdapters[name]
	delete(r.disposableAdapters, name)
	r.disposableMu.Unlock()
	if ok {
		r.log.WithField("beanID", name).Trace("Destroying singleton instance")
		if err := adapter.destroy(); err != nil {
			r.log.WithError(err).WithField("beanID", name).Error("Error destroying bean, continuing with the rest")
		}
	}

	r.edgeMu.Lock()
	for dependency := range r.dependenciesOf[name] {
		if set, ok := r.dependentsOf[dependency]; ok {
			delete(set, name)
		}
	}
	delete(r.dependenciesOf, name)
	r.edgeMu.Unlock()

	r.removeSingleton(name)
}

func (r *singletonRegistry) isInDestruction() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inDestruction
}
