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

// factoryBeanRegistry caches the *product* of a FactoryBean separately from the factory instance
// itself, keyed by the factory's bean name (SPEC_FULL.md §4.3).
type factoryBeanRegistry struct {
	mu        sync.Mutex
	products  map[string]interface{}
	producing map[string]struct{}
	log       *logrus.Entry
}

func newFactoryBeanRegistry(log *logrus.Entry) *factoryBeanRegistry {
	return &factoryBeanRegistry{
		products:  make(map[string]interface{}),
		producing: make(map[string]struct{}),
		log:       log,
	}
}

func (f *factoryBeanRegistry) cachedProduct(name string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.products[name]
	return v, ok
}

// getProduct runs fb.ProduceBean(), applying the post-init hook (unless synthetic) and caching
// the result if fb.IsSingleton(). Recursive re-entry (the factory's own product depends, directly
// or indirectly, on looking itself up again) returns the raw product without post-processing and
// without caching it yet, per SPEC_FULL.md §4.3.
func (f *factoryBeanRegistry) getProduct(name string, fb FactoryBean, synthetic bool, postInit func(interface{}) (interface{}, error)) (interface{}, error) {
	f.mu.Lock()
	if v, ok := f.products[name]; ok {
		f.mu.Unlock()
		return v, nil
	}
	if _, inProgress := f.producing[name]; inProgress {
		f.mu.Unlock()
		f.log.WithField("beanID", name).Trace("Recursive FactoryBean product lookup, returning raw product uncached")
		return fb.ProduceBean()
	}
	f.producing[name] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.producing, name)
		f.mu.Unlock()
	}()

	product, err := fb.ProduceBean()
	if err != nil {
		return nil, err
	}
	if !synthetic && postInit != nil {
		product, err = postInit(product)
		if err != nil {
			return nil, err
		}
	}

	if fb.IsSingleton() {
		f.mu.Lock()
		f.products[name] = product
		f.mu.Unlock()
	}
	return product, nil
}

func (f *factoryBeanRegistry) removeProduct(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.products, name)
}

// ScopeHandler is the extensibility point for custom scopes (SPEC_FULL.md §3 "extensible by
// registering scope handlers"). Singleton, Prototype and RequestScope are built-in and always
// registered; any other scope is supplied by the application and registered with
// Container.RegisterScope.
type ScopeHandler interface {
	// Get returns the scoped instance for name, invoking objFactory to create it if necessary.
	Get(name string, objFactory func() (interface{}, error)) (interface{}, error)
	// Remove removes and returns the scoped instance for name, if present.
	Remove(name string) (interface{}, bool)
	// RegisterDestructionCallback registers a callback to run when the scope for name ends.
	RegisterDestructionCallback(name string, callback func())
	// BoundToContext reports whether this scope is driven by a context.Context (e.g. a web
	// request), in which case Container.Middleware-style wiring, not direct GetBean, is the
	// intended access path.
	BoundToContext() bool
}

// prototypeScopeHandler implements the built-in prototype scope: every Get call invokes the
// factory and the registry retains no reference, per GLOSSARY "Prototype".
type prototypeScopeHandler struct{}

func (prototypeScopeHandler) Get(_ string, objFactory func() (interface{}, error)) (interface{}, error) {
	return objFactory()
}

func (prototypeScopeHandler) Remove(_ string) (interface{}, bool) { return nil, false }

func (prototypeScopeHandler) RegisterDestructionCallback(_ string, _ func()) {}

func (prototypeScopeHandler) BoundToContext() bool { return false }
