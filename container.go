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

// Package di implements the core of an Inversion-of-Control container: a mutable registry of
// bean definitions, a singleton cache with cycle-tolerant early exposure, a name/type/qualifier
// dependency resolver, and an ordered post-processor pipeline, wired together by Container.
package di

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{})
}

// refreshState mirrors the teacher's atomic containerInitialized int32, generalized to a
// per-instance field (see DESIGN.md "Deliberate departure from the teacher").
const (
	refreshStateNew int32 = iota
	refreshStateRefreshing
	refreshStateReady
	refreshStateDestroyed
)

// Container is one IoC container instance: the Definition Registry, Singleton Registry,
// FactoryBean Registry, Alias Registry, and Post-Processor Pipeline described in SPEC_FULL.md
// §2, plus the Dependency Resolver and Creation Engine that operate over them.
type Container struct {
	name string

	definitions  *definitionRegistry
	singletons   *singletonRegistry
	aliases      *aliasRegistry
	factoryBeans *factoryBeanRegistry
	processors   *postProcessorPipeline

	typeResolver   TypeResolver
	stringResolver StringValueResolver
	typeConverter  TypeConverter

	scopesMu sync.RWMutex
	scopes   map[Scope]ScopeHandler

	ignoredMu               sync.RWMutex
	ignoredDependencyTypes  map[reflect.Type]struct{}
	resolvableMu            sync.RWMutex
	resolvableDependencies  map[reflect.Type]interface{}

	parent *Container

	factoryPostProcessors []BeanFactoryPostProcessor

	// allowRawInjection governs Creation Engine Step 10's reconciliation: when true, a bean
	// whose early (raw) reference was already handed out to another bean is allowed to remain
	// the externally visible instance even if AfterInitialization later wrapped it; when false
	// (the default), that situation raises currently-in-creation (SPEC_FULL.md §4.5 Step 10).
	allowRawInjection bool

	registrationLock sync.Mutex
	refreshState     int32
	refreshID        string

	// innerBeanSeq generates unique synthetic names for anonymously-declared inner beans
	// (properties.go:createInnerBean); mutated only via atomic.AddInt64.
	innerBeanSeq int64

	log *logrus.Entry
}

// New creates a ready-to-register, not-yet-refreshed Container.
func New() *Container {
	log := logrus.WithField("component", "di")
	c := &Container{
		aliases:                newAliasRegistry(),
		typeResolver:           newRegistryTypeResolver(),
		stringResolver:         passthroughStringValueResolver{},
		typeConverter:          defaultTypeConverter{},
		scopes:                 make(map[Scope]ScopeHandler),
		ignoredDependencyTypes: make(map[reflect.Type]struct{}),
		resolvableDependencies: make(map[reflect.Type]interface{}),
		log:                    log,
	}
	c.definitions = newDefinitionRegistry(log)
	c.singletons = newSingletonRegistry(log)
	c.factoryBeans = newFactoryBeanRegistry(log)
	c.processors = newPostProcessorPipeline(log)
	c.scopes[Prototype] = prototypeScopeHandler{}
	c.scopes[RequestScope] = requestScopeHandler{}
	return c
}

// SetParent wires this container as a child of parent: hierarchical ContainsBean/GetBean lookups
// fall back to it when not found locally (SPEC_FULL.md §4.4).
func (c *Container) SetParent(parent *Container) {
	c.parent = parent
	c.definitions.parent = parent
}

func (c *Container) SetTypeResolver(resolver TypeResolver) { c.typeResolver = resolver }
func (c *Container) SetStringValueResolver(resolver StringValueResolver) {
	c.stringResolver = resolver
}
func (c *Container) SetTypeConverter(converter TypeConverter) { c.typeConverter = converter }

// SetAllowRawInjectionDespiteWrapping controls Creation Engine Step 10's reconciliation policy;
// see the allowRawInjection field doc.
func (c *Container) SetAllowRawInjectionDespiteWrapping(allow bool) { c.allowRawInjection = allow }

// RegisterType associates a className with a reflect.Type in the default TypeResolver. Not
// needed when BeanDefinition.BeanType is set directly.
func (c *Container) RegisterType(className string, t reflect.Type) {
	if r, ok := c.typeResolver.(*registryTypeResolver); ok {
		r.register(className, t)
	}
}

func (c *Container) isRefreshed() bool {
	return atomic.LoadInt32(&c.refreshState) == refreshStateReady
}

func (c *Container) isDestroyed() bool {
	return atomic.LoadInt32(&c.refreshState) == refreshStateDestroyed
}

// RegisterBeanDefinition registers or replaces the recipe for name. Fails if name is already
// registered and overriding has been disabled via AllowBeanDefinitionOverriding(false).
func (c *Container) RegisterBeanDefinition(name string, def *BeanDefinition) error {
	c.registrationLock.Lock()
	defer c.registrationLock.Unlock()
	if c.isRefreshed() {
		c.log.WithField("beanID", name).Warn("Registering a bean definition after the container has been refreshed")
	}
	return c.definitions.registerBeanDefinition(name, def)
}

// RemoveBeanDefinition removes a previously registered definition.
func (c *Container) RemoveBeanDefinition(name string) error {
	return c.definitions.removeBeanDefinition(name)
}

// AllowBeanDefinitionOverriding toggles whether RegisterBeanDefinition may replace an existing
// definition of the same name. Overriding is allowed by default, matching the teacher's
// RegisterBean/RegisterBeanInstance/RegisterBeanFactory, which all warn-and-overwrite rather than
// fail when reused.
func (c *Container) AllowBeanDefinitionOverriding(allow bool) {
	c.definitions.setAllowOverriding(allow)
}

// RegisterAlias registers alias as an alternative name for canonical. It fails if alias is
// already the canonical name of an existing bean definition and overriding has been disabled via
// AllowBeanDefinitionOverriding(false), matching RegisterBeanDefinition's own override contract
// (SPEC_FULL.md §4.1).
func (c *Container) RegisterAlias(canonical, alias string) error {
	if alias != canonical && c.definitions.containsBeanDefinition(alias) && !c.definitions.overridingAllowed() {
		return beanDefinitionStoreErr(alias, pkgerrors.Errorf(
			"cannot register alias '%s' for '%s': '%s' is already the name of an existing bean definition and overriding is disabled", alias, canonical, alias))
	}
	return c.aliases.registerAlias(canonical, alias)
}

// GetAliases returns every alias that resolves to name.
func (c *Container) GetAliases(name string) []string {
	return c.aliases.aliasesFor(c.aliases.canonicalName(name))
}

// RegisterSingleton pre-registers an already-built instance directly under name; no creation
// callbacks fire for it (GLOSSARY: "pre-registered" singleton).
func (c *Container) RegisterSingleton(name string, instance interface{}) {
	c.singletons.registerSingleton(name, instance)
}

// RegisterScope registers a custom scope handler under scopeName. Singleton, Prototype and
// RequestScope are always available and cannot be re-registered.
func (c *Container) RegisterScope(scopeName Scope, handler ScopeHandler) error {
	if scopeName == Singleton || scopeName == Prototype || scopeName == RequestScope {
		return pkgerrors.Errorf("cannot re-register built-in scope '%s'", scopeName)
	}
	c.scopesMu.Lock()
	defer c.scopesMu.Unlock()
	c.scopes[scopeName] = handler
	return nil
}

func (c *Container) scopeHandler(scopeName Scope) (ScopeHandler, bool) {
	c.scopesMu.RLock()
	defer c.scopesMu.RUnlock()
	h, ok := c.scopes[scopeName]
	return h, ok
}

// GetRegisteredScopeNames lists every scope name beyond the three built-ins (Singleton,
// Prototype, RequestScope).
func (c *Container) GetRegisteredScopeNames() []Scope {
	c.scopesMu.RLock()
	defer c.scopesMu.RUnlock()
	names := make([]Scope, 0, len(c.scopes))
	for s := range c.scopes {
		if s == Prototype || s == RequestScope {
			continue
		}
		names = append(names, s)
	}
	return names
}

// RegisterResolvableDependency registers a container-provided value (not backed by any
// definition) that the Dependency Resolver may inject for the given declared type, e.g. the
// container itself or a context.Context.
func (c *Container) RegisterResolvableDependency(t reflect.Type, value interface{}) {
	c.resolvableMu.Lock()
	defer c.resolvableMu.Unlock()
	c.resolvableDependencies[t] = value
}

// IgnoreDependencyType excludes t from autowiring candidate enumeration entirely.
func (c *Container) IgnoreDependencyType(t reflect.Type) {
	c.ignoredMu.Lock()
	defer c.ignoredMu.Unlock()
	c.ignoredDependencyTypes[t] = struct{}{}
}

// IgnoreDependencyInterface is an alias for IgnoreDependencyType kept for API symmetry with the
// Configuration API in SPEC_FULL.md §6 (interfaces and concrete types share one reflect.Type
// representation in Go).
func (c *Container) IgnoreDependencyInterface(t reflect.Type) {
	c.IgnoreDependencyType(t)
}

func (c *Container) isIgnoredDependencyType(t reflect.Type) bool {
	c.ignoredMu.RLock()
	defer c.ignoredMu.RUnlock()
	_, ok := c.ignoredDependencyTypes[t]
	return ok
}

// AddBeanPostProcessor registers an instance-phase post-processor. Must be called before
// PreInstantiateSingletons for it to see every singleton's creation.
func (c *Container) AddBeanPostProcessor(pp BeanPostProcessor) {
	c.processors.add(pp)
}

// GetBeanPostProcessorCount reports how many instance-phase post-processors are registered.
func (c *Container) GetBeanPostProcessorCount() int {
	return c.processors.count()
}

// AddBeanFactoryPostProcessor registers a definition-phase post-processor run once during
// Refresh (SPEC_FULL.md §4.7).
func (c *Container) AddBeanFactoryPostProcessor(pp BeanFactoryPostProcessor) {
	c.factoryPostProcessors = append(c.factoryPostProcessors, pp)
}

// ContainsBeanDefinition reports whether name (or, failing that, the parent container) has a
// registered definition.
func (c *Container) ContainsBeanDefinition(name string) bool {
	return c.definitions.containsBeanDefinition(c.aliases.canonicalName(name))
}

// ContainsBean reports whether name resolves to either a bean definition or a manually
// registered singleton, consulting the parent hierarchically.
func (c *Container) ContainsBean(name string) bool {
	canonical := c.aliases.canonicalName(name)
	if c.definitions.containsBeanDefinition(canonical) {
		return true
	}
	if c.singletons.containsSingleton(canonical) {
		return true
	}
	if c.parent != nil {
		return c.parent.ContainsBean(name)
	}
	return false
}

// GetBeanDefinitionNames lists definition-backed names first (registration order), followed by
// names of manually registered singletons that have no backing definition, per the Open Question
// resolution recorded in DESIGN.md.
func (c *Container) GetBeanDefinitionNames() []string {
	names := c.definitions.beanDefinitionNames()
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	for _, n := range c.singletons.singletonNames() {
		if _, ok := seen[n]; !ok {
			names = append(names, n)
			seen[n] = struct{}{}
		}
	}
	return names
}

// GetMergedBeanDefinition returns the fully overlaid definition for name.
func (c *Container) GetMergedBeanDefinition(name string) (*MergedBeanDefinition, error) {
	return c.definitions.getMergedBeanDefinition(c.aliases.canonicalName(name))
}

// FreezeConfiguration snapshots the current definition set for pre-instantiation. Idempotent.
func (c *Container) FreezeConfiguration() {
	c.definitions.freezeConfiguration()
}

// IsSingleton reports whether name is singleton-scoped, consulting the merged definition.
func (c *Container) IsSingleton(name string) (bool, error) {
	canonical := c.aliases.canonicalName(name)
	if c.singletons.containsSingleton(canonical) && !c.definitions.containsBeanDefinition(canonical) {
		return true, nil
	}
	def, err := c.GetMergedBeanDefinition(canonical)
	if err != nil {
		return false, err
	}
	return def.Scope == Singleton, nil
}

// IsPrototype reports whether name is prototype-scoped.
func (c *Container) IsPrototype(name string) (bool, error) {
	def, err := c.GetMergedBeanDefinition(c.aliases.canonicalName(name))
	if err != nil {
		return false, err
	}
	return def.Scope == Prototype, nil
}

// newRefreshID stamps a fresh per-refresh correlation id (SPEC_FULL.md §4.9 / §2.2).
func newRefreshID() string {
	return uuid.New().String()
}
