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

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// definitionRegistry stores bean definitions and performs parent/child merging, freezing, and
// bulk enumeration (SPEC_FULL.md §4.4). One instance lives per Container; registries may be
// chained through parent for hierarchical lookup.
type definitionRegistry struct {
	mu sync.RWMutex

	definitions map[string]*BeanDefinition
	names       []string // registration order

	frozen       bool
	frozenNames  []string
	allowOverriding bool

	mergedCache map[string]*MergedBeanDefinition

	parent *Container

	log *logrus.Entry
}

func newDefinitionRegistry(log *logrus.Entry) *definitionRegistry {
	return &definitionRegistry{
		definitions:     make(map[string]*BeanDefinition),
		mergedCache:     make(map[string]*MergedBeanDefinition),
		allowOverriding: true,
		log:             log,
	}
}

// registerBeanDefinition implements SPEC_FULL.md §4.4's registration contract.
func (d *definitionRegistry) registerBeanDefinition(name string, def *BeanDefinition) error {
	if def.Scope == "" {
		def.Scope = Singleton
	}
	if def.Attributes == nil {
		def.Attributes = make(map[string]interface{})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frozen {
		d.log.WithField("beanID", name).Warn("Registering a bean definition after FreezeConfiguration: the frozen enumeration snapshot will not include it until the next freeze")
	}

	if existing, ok := d.definitions[name]; ok {
		if !d.allowOverriding {
			return beanDefinitionStoreErr(name, pkgerrors.Errorf("cannot register bean definition for '%s': already registered and overriding is disabled", name))
		}
		d.log.WithFields(logrus.Fields{
			"beanID":          name,
			"existing type":   existing.BeanType,
			"new type":        def.BeanType,
		}).Warn("Bean definition with such name is already registered, overwriting it")
	} else {
		d.names = append(d.names, name)
	}
	def.Name = name
	d.definitions[name] = def
	d.invalidateMergedCacheLocked(name)
	return nil
}

func (d *definitionRegistry) removeBeanDefinition(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.definitions[name]; !ok {
		return beanDefinitionStoreErr(name, pkgerrors.Errorf("no bean definition found for '%s'", name))
	}
	delete(d.definitions, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
	d.invalidateMergedCacheLocked(name)
	return nil
}

// invalidateMergedCacheLocked drops the cached merge for name and for every definition whose
// parent chain passes through it, under the write lock already held by the caller.
func (d *definitionRegistry) invalidateMergedCacheLocked(name string) {
	delete(d.mergedCache, name)
	for candidate, def := range d.definitions {
		if def.ParentName == "" {
			continue
		}
		if d.chainTouches(candidate, name, map[string]bool{}) {
			delete(d.mergedCache, candidate)
		}
	}
}

func (d *definitionRegistry) chainTouches(start, target string, visited map[string]bool) bool {
	if visited[start] {
		return false
	}
	visited[start] = true
	def, ok := d.definitions[start]
	if !ok {
		return false
	}
	if def.ParentName == target {
		return true
	}
	if def.ParentName == "" {
		return false
	}
	return d.chainTouches(def.ParentName, target, visited)
}

func (d *definitionRegistry) containsBeanDefinition(name string) bool {
	d.mu.RLock()
	_, ok := d.definitions[name]
	d.mu.RUnlock()
	if ok {
		return true
	}
	if d.parent != nil {
		return d.parent.ContainsBeanDefinition(name)
	}
	return false
}

func (d *definitionRegistry) rawDefinition(name string) (*BeanDefinition, bool) {
	d.mu.RLock()
	def, ok := d.definitions[name]
	d.mu.RUnlock()
	if ok {
		return def, true
	}
	if d.parent != nil {
		return d.parent.definitions.rawDefinition(name)
	}
	return nil, false
}

// getMergedBeanDefinition walks the parent chain, rejecting cycles, and overlays child fields
// onto a fresh copy of the ancestor (SPEC_FULL.md §4.4).
func (d *definitionRegistry) getMergedBeanDefinition(name string) (*MergedBeanDefinition, error) {
	d.mu.RLock()
	if cached, ok := d.mergedCache[name]; ok {
		d.mu.RUnlock()
		return cached, nil
	}
	d.mu.RUnlock()

	def, ok := d.rawDefinition(name)
	if !ok {
		return nil, beanDefinitionStoreErr(name, pkgerrors.Errorf("no bean definition found for '%s'", name))
	}

	chain, err := d.buildChain(name, def, map[string]bool{})
	if err != nil {
		return nil, err
	}

	merged := chain[0].Clone()
	sourceNames := []string{chain[0].Name}
	for _, child := range chain[1:] {
		merged = overlay(merged, child)
		sourceNames = append(sourceNames, child.Name)
	}
	merged.Name = name

	result := &MergedBeanDefinition{BeanDefinition: merged, SourceChain: sourceNames}

	d.mu.Lock()
	d.mergedCache[name] = result
	d.mu.Unlock()
	return result, nil
}

// buildChain returns ancestors first, name's own definition last.
func (d *definitionRegistry) buildChain(name string, def *BeanDefinition, visited map[string]bool) ([]*BeanDefinition, error) {
	if visited[name] {
		return nil, beanDefinitionStoreErr(name, pkgerrors.Errorf("circular parent reference detected involving '%s'", name))
	}
	visited[name] = true
	if def.ParentName == "" {
		return []*BeanDefinition{def}, nil
	}
	parentDef, ok := d.rawDefinition(def.ParentName)
	if !ok {
		return nil, beanDefinitionStoreErr(name, pkgerrors.Errorf("parent definition '%s' not found for '%s'", def.ParentName, name))
	}
	ancestors, err := d.buildChain(def.ParentName, parentDef, visited)
	if err != nil {
		return nil, err
	}
	return append(ancestors, def), nil
}

// overlay returns a new definition with child's explicitly-set fields overriding parent's,
// starting from a clone of parent.
func overlay(parent *BeanDefinition, child *BeanDefinition) *BeanDefinition {
	merged := parent.Clone()
	if child.ClassName != "" {
		merged.ClassName = child.ClassName
	}
	if child.BeanType != nil {
		merged.BeanType = child.BeanType
	}
	if child.Scope != "" {
		merged.Scope = child.Scope
	}
	merged.LazyInit = child.LazyInit
	if len(child.DependsOn) > 0 {
		merged.DependsOn = append(append([]string(nil), parent.DependsOn...), child.DependsOn...)
	}
	if child.AutowireMode != AutowireNone {
		merged.AutowireMode = child.AutowireMode
	}
	merged.Primary = child.Primary
	if child.Qualifier != "" {
		merged.Qualifier = child.Qualifier
	}
	merged.ExcludeFromAutowiring = child.ExcludeFromAutowiring
	if child.FactoryBeanName != "" {
		merged.FactoryBeanName = child.FactoryBeanName
	}
	if child.FactoryMethodName != "" {
		merged.FactoryMethodName = child.FactoryMethodName
	}
	if child.ConstructorFunc != nil {
		merged.ConstructorFunc = child.ConstructorFunc
	}
	if child.InstanceSupplier != nil {
		merged.InstanceSupplier = child.InstanceSupplier
	}
	if !child.ConstructorArgs.Empty() {
		merged.ConstructorArgs = child.ConstructorArgs
	}
	if len(child.PropertyValues) > 0 {
		byName := make(map[string]int, len(merged.PropertyValues))
		for i, pv := range merged.PropertyValues {
			byName[pv.Name] = i
		}
		for _, pv := range child.PropertyValues {
			if idx, ok := byName[pv.Name]; ok {
				merged.PropertyValues[idx] = pv
			} else {
				merged.PropertyValues = append(merged.PropertyValues, pv)
			}
		}
	}
	if child.InitMethodName != "" {
		merged.InitMethodName = child.InitMethodName
	}
	if child.DestroyMethodName != "" {
		merged.DestroyMethodName = child.DestroyMethodName
	}
	merged.Role = child.Role
	for k, v := range child.Attributes {
		if merged.Attributes == nil {
			merged.Attributes = make(map[string]interface{})
		}
		merged.Attributes[k] = v
	}
	return merged
}

func (d *definitionRegistry) clearMetadataCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mergedCache = make(map[string]*MergedBeanDefinition)
}

// freezeConfiguration snapshots the current definition set into an ordered bean-name slice.
func (d *definitionRegistry) freezeConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frozen = true
	d.frozenNames = append([]string(nil), d.names...)
}

func (d *definitionRegistry) beanDefinitionNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.frozen {
		return append([]string(nil), d.frozenNames...)
	}
	return append([]string(nil), d.names...)
}

func (d *definitionRegistry) isFrozen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frozen
}

func (d *definitionRegistry) overridingAllowed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allowOverriding
}

func (d *definitionRegistry) setAllowOverriding(allow bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allowOverriding = allow
}
