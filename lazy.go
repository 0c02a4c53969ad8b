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

import "sync"

// LazyBean defers dependency resolution until Get is first called, per SPEC_FULL.md §9's design
// note on breaking constructor-injection cycles without relying on early exposure. A di.inject
// field of type *LazyBean, or an InjectionPoint with Lazy set, receives one of these instead of
// the resolved dependency itself. A by-value LazyBean field is rejected, and a constructor
// parameter of type *LazyBean is resolved by type like any other parameter.
type LazyBean struct {
	once     sync.Once
	resolve  func() (interface{}, error)
	value    interface{}
	resolved bool
	err      error
}

// Get resolves the delegate on first call and caches the result (or the error) for every
// subsequent call.
func (l *LazyBean) Get() (interface{}, error) {
	l.once.Do(func() {
		l.value, l.err = l.resolve()
		l.resolved = l.err == nil
	})
	return l.value, l.err
}

// IsResolved reports whether Get has already succeeded once, without triggering resolution.
func (l *LazyBean) IsResolved() bool {
	return l.resolved
}

// newLazyDelegate builds the *LazyBean handed back for an InjectionPoint with Lazy set. The
// delegate closes over a copy of ip with Lazy cleared, so calling Get performs one ordinary,
// eager resolution.
func (c *Container) newLazyDelegate(ip InjectionPoint) *LazyBean {
	eager := ip
	eager.Lazy = false
	return &LazyBean{
		resolve: func() (interface{}, error) {
			return c.resolve(eager)
		},
	}
}
