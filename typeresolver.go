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
	"reflect"

	pkgerrors "github.com/pkg/errors"
)

// TypeResolver is the narrow "given a class name, return its reflect.Type" interface described
// in SPEC_FULL.md §9: it stands in for a Java class loader so that the creation engine's logic is
// testable against a fake metadata service without depending on a global type registry.
type TypeResolver interface {
	ResolveType(className string) (reflect.Type, error)
}

// registryTypeResolver is the default TypeResolver: an explicit name -> type map populated via
// Container.RegisterType, since Go has no runtime class loader to consult by string name.
type registryTypeResolver struct {
	types map[string]reflect.Type
}

func newRegistryTypeResolver() *registryTypeResolver {
	return &registryTypeResolver{types: make(map[string]reflect.Type)}
}

func (r *registryTypeResolver) register(className string, t reflect.Type) {
	r.types[className] = t
}

func (r *registryTypeResolver) ResolveType(className string) (reflect.Type, error) {
	t, ok := r.types[className]
	if !ok {
		return nil, pkgerrors.Errorf("cannot resolve class name '%s': no type registered under that name", className)
	}
	return t, nil
}

// TypeConverter converts a resolved value to a declared property/parameter type. The core only
// consumes this narrow interface (SPEC_FULL.md §1 scope note on conversion services); a default
// implementation handles same-type and directly-assignable values, which covers every case the
// teacher itself handled (it never did value conversion at all -- injections were always
// reference-typed).
type TypeConverter interface {
	Convert(value interface{}, target reflect.Type) (interface{}, error)
}

type defaultTypeConverter struct{}

func (defaultTypeConverter) Convert(value interface{}, target reflect.Type) (interface{}, error) {
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(target) {
		return value, nil
	}
	if v.Type().ConvertibleTo(target) {
		return v.Convert(target).Interface(), nil
	}
	return nil, pkgerrors.Errorf("cannot convert value of type %s to %s", v.Type(), target)
}

type passthroughStringValueResolver struct{}

func (passthroughStringValueResolver) ResolveStringValue(value string) (string, error) {
	return value, nil
}
