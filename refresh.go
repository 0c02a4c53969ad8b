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
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
)

// Refresh drives the container through SPEC_FULL.md §4.9: definition-phase post-processors to a
// fixed point, configuration freeze, then eager pre-instantiation of every non-lazy singleton.
// It mirrors the teacher's InitializeContainer, generalized from a package-level
// compare-and-swap on one shared container to a per-instance one (see DESIGN.md "Deliberate
// departure from the teacher").
func (c *Container) Refresh() error {
	if !atomic.CompareAndSwapInt32(&c.refreshState, refreshStateNew, refreshStateRefreshing) {
		return errAlreadyInitialized
	}

	c.refreshID = newRefreshID()
	log := c.log.WithField("refreshID", c.refreshID)
	log.Trace("Refreshing container")

	if err := c.invokeBeanFactoryPostProcessors(); err != nil {
		atomic.StoreInt32(&c.refreshState, refreshStateNew)
		return err
	}

	c.FreezeConfiguration()

	if err := c.PreInstantiateSingletons(); err != nil {
		atomic.StoreInt32(&c.refreshState, refreshStateNew)
		return err
	}

	atomic.StoreInt32(&c.refreshState, refreshStateReady)
	log.Trace("Container refreshed")
	return nil
}

// invokeBeanFactoryPostProcessors runs every BeanDefinitionRegistryPostProcessor to a fixed
// point (an earlier one may add further processors via AddBeanFactoryPostProcessor; bean
// definitions are not scanned for processors), then every plain BeanFactoryPostProcessor once.
func (c *Container) invokeBeanFactoryPostProcessors() error {
	processed := make(map[int]bool)
	for {
		progressed := false
		for i, pp := range c.factoryPostProcessors {
			if processed[i] {
				continue
			}
			registryPP, ok := pp.(BeanDefinitionRegistryPostProcessor)
			if !ok {
				continue
			}
			if err := registryPP.PostProcessBeanDefinitionRegistry(c); err != nil {
				return beanDefinitionStoreErr("<factory-post-processor>", err)
			}
			processed[i] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for i, pp := range c.factoryPostProcessors {
		if processed[i] {
			continue
		}
		if err := pp.PostProcessBeanFactory(c); err != nil {
			return beanDefinitionStoreErr("<factory-post-processor>", err)
		}
	}
	return nil
}

// PreInstantiateSingletons eagerly creates every non-lazy singleton-scoped definition, honoring
// DependsOn order, and unwinds everything it created if any one of them fails (SPEC_FULL.md §7
// "partial refresh failure" propagation policy).
func (c *Container) PreInstantiateSingletons() error {
	names := c.definitions.beanDefinitionNames()
	created := make([]string, 0, len(names))

	var instantiate func(name string, chain map[string]bool) error
	instantiate = func(name string, chain map[string]bool) error {
		if chain[name] {
			return beanDefinitionStoreErr(name, pkgerrors.Errorf("circular dependsOn relationship detected involving '%s'", name))
		}
		def, err := c.GetMergedBeanDefinition(name)
		if err != nil {
			return err
		}
		if def.Scope != Singleton || def.LazyInit {
			return nil
		}
		if c.singletons.containsSingleton(name) {
			return nil
		}
		chain[name] = true
		for _, dep := range def.DependsOn {
			if err := instantiate(dep, chain); err != nil {
				return err
			}
		}
		delete(chain, name)

		if _, err := c.getBean(name, nil); err != nil {
			return err
		}
		created = append(created, name)
		return nil
	}

	for _, name := range names {
		if err := instantiate(name, map[string]bool{}); err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				c.singletons.destroySingleton(created[i])
			}
			return err
		}
	}
	return nil
}

// DestroySingletons tears down every managed singleton in reverse dependency order, running
// DisposableBean.Destroy, any registered destroy method, and destruction-aware post-processors.
func (c *Container) DestroySingletons() {
	c.singletons.destroySingletons()
	atomic.StoreInt32(&c.refreshState, refreshStateDestroyed)
}

// DestroyScopedBean removes name from whatever custom scope owns it via the scope handler's
// Remove; no destruction callback is invoked here.
func (c *Container) DestroyScopedBean(name string) error {
	canonical := c.aliases.canonicalName(name)
	def, err := c.GetMergedBeanDefinition(canonical)
	if err != nil {
		return err
	}
	handler, ok := c.customScopeHandler(def.Scope)
	if !ok {
		return pkgerrors.Errorf("bean '%s' is not in a custom scope", name)
	}
	handler.Remove(canonical)
	return nil
}

// DestroyBean destroys an arbitrary bean instance not managed by the singleton registry (e.g. a
// prototype the caller obtained earlier), running the same destruction contract a managed
// singleton would get.
func (c *Container) DestroyBean(name string, instance interface{}) {
	if disposable, ok := instance.(DisposableBean); ok {
		if err := disposable.Destroy(); err != nil {
			c.log.WithError(err).WithField("beanID", name).Warn("DisposableBean.Destroy failed")
		}
		return
	}
	if c.processors.requiresDestruction(instance) {
		if err := c.processors.beforeDestruction(instance, name); err != nil {
			c.log.WithError(err).WithField("beanID", name).Warn("Destruction-aware post-processor failed")
		}
	}
}
