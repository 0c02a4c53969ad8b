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
	"sort"
)

// InjectionPoint describes one constructor parameter, setter parameter, or field asking the
// Dependency Resolver for a value, per SPEC_FULL.md §4.6.
type InjectionPoint struct {
	// Name is the parameter/field name, used for by-name tie-breaking; may be empty.
	Name string
	// Type is the declared type of the injection site. May be a slice, array, map[string]T, or a
	// plain type.
	Type reflect.Type
	// Qualifier, when non-empty, must match a candidate's BeanDefinition.Qualifier to win a tie.
	Qualifier string
	// Lazy requests a resolver-backed delegate instead of an eagerly resolved value (SPEC_FULL.md
	// §9).
	Lazy bool
	// Optional suppresses the no-such-bean error, returning a zero value instead.
	Optional bool
	// RequestingBean is the name of the bean this injection point belongs to, excluded from its
	// own candidate set and used to record dependency edges.
	RequestingBean string
	// LiteralValue, when non-nil, short-circuits resolution: it is passed through the string
	// resolver and type converter and returned directly (SPEC_FULL.md §4.6 step 3).
	LiteralValue *string

	cachedBeanName string
}

// Orderer lets a bean influence its position within a multi-match container result. Lower values
// sort first. Ties fall back to declared order (registration order of the definition).
type Orderer interface {
	Order() int
}

// candidate pairs a resolved bean name with its (possibly not-yet-created) merged definition and
// instance, for ranking purposes.
type candidate struct {
	name string
	def  *MergedBeanDefinition
}

// resolve is the Dependency Resolver entry point: SPEC_FULL.md §4.6 steps 1-6.
func (c *Container) resolve(ip InjectionPoint) (interface{}, error) {
	if ip.cachedBeanName != "" {
		if instance, err := c.GetBean(ip.cachedBeanName); err == nil {
			return instance, nil
		}
	}

	if ip.LiteralValue != nil {
		resolved, err := c.stringResolver.ResolveStringValue(*ip.LiteralValue)
		if err != nil {
			return nil, err
		}
		return c.typeConverter.Convert(resolved, ip.Type)
	}

	if ip.Lazy {
		return c.newLazyDelegate(ip), nil
	}

	if isMultiMatchContainer(ip.Type) {
		return c.resolveMultiMatch(ip)
	}

	return c.resolveSingleMatch(ip)
}

func isMultiMatchContainer(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	default:
		return false
	}
}

func elementType(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return t.Elem()
	default:
		return t
	}
}

// candidatesFor enumerates every currently-registered bean assignable to target, excluding self
// and any AutowireCandidate=false definition, per SPEC_FULL.md §4.6 steps 4/5.
func (c *Container) candidatesFor(target reflect.Type, excludeName string) []candidate {
	if c.isIgnoredDependencyType(target) {
		return nil
	}
	var result []candidate
	for _, name := range c.definitions.beanDefinitionNames() {
		if name == excludeName {
			continue
		}
		def, err := c.GetMergedBeanDefinition(name)
		if err != nil {
			continue
		}
		if def.ExcludeFromAutowiring {
			continue
		}
		beanType := c.predictBeanType(name, def)
		if beanType == nil {
			continue
		}
		if !beanType.AssignableTo(target) {
			continue
		}
		result = append(result, candidate{name: name, def: def})
	}
	return result
}

// predictBeanType resolves a bean's type without necessarily instantiating it: the merged
// definition's BeanType if set (substituting a FactoryBean's product type, per SPEC_FULL.md §4.3,
// so that autowiring by type matches what GetBean actually returns), else a post-processor's
// PredictType hook, else (last resort) the type of an already-created singleton instance.
func (c *Container) predictBeanType(name string, def *MergedBeanDefinition) reflect.Type {
	if def.BeanType != nil {
		if pt := factoryBeanProductType(def.BeanType); pt != nil {
			return pt
		}
		return def.BeanType
	}
	if t := c.processors.predictType(name, def); t != nil {
		return t
	}
	if instance, ok := c.singletons.getSingleton(name); ok {
		return reflect.TypeOf(instance)
	}
	return nil
}

var factoryBeanType = reflect.TypeOf((*FactoryBean)(nil)).Elem()

// factoryBeanProductType reports the product type of beanType without invoking ProduceBean, when
// beanType implements FactoryBean and ProductType() doesn't need a live instance to answer.
func factoryBeanProductType(beanType reflect.Type) reflect.Type {
	if !beanType.Implements(factoryBeanType) {
		return nil
	}
	var zero reflect.Value
	if beanType.Kind() == reflect.Ptr {
		zero = reflect.New(beanType.Elem())
	} else {
		zero = reflect.Zero(beanType)
	}
	fb, ok := zero.Interface().(FactoryBean)
	if !ok {
		return nil
	}
	return fb.ProductType()
}

// resolveMultiMatch implements SPEC_FULL.md §4.6 step 4: every assignable bean, sorted by its
// Orderer value (0 when absent) then registration order, returned as the requested container
// shape.
func (c *Container) resolveMultiMatch(ip InjectionPoint) (interface{}, error) {
	elemType := elementType(ip.Type)
	candidates := c.candidatesFor(elemType, ip.RequestingBean)

	type ordered struct {
		candidate
		instance   interface{}
		orderValue int
		position   int
	}
	ranked := make([]ordered, len(candidates))
	for i, cand := range candidates {
		instance, err := c.GetBean(cand.name)
		if err != nil {
			return nil, err
		}
		if ip.RequestingBean != "" {
			c.singletons.registerDependentBean(cand.name, ip.RequestingBean)
		}
		orderValue := 0
		if orderer, ok := instance.(Orderer); ok {
			orderValue = orderer.Order()
		}
		ranked[i] = ordered{candidate: cand, instance: instance, orderValue: orderValue, position: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].orderValue != ranked[j].orderValue {
			return ranked[i].orderValue < ranked[j].orderValue
		}
		return ranked[i].position < ranked[j].position
	})

	switch ip.Type.Kind() {
	case reflect.Map:
		m := reflect.MakeMap(ip.Type)
		for _, r := range ranked {
			m.SetMapIndex(reflect.ValueOf(r.name), reflect.ValueOf(r.instance))
		}
		return m.Interface(), nil
	default:
		slice := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(ranked))
		for _, r := range ranked {
			slice = reflect.Append(slice, reflect.ValueOf(r.instance))
		}
		if ip.Type.Kind() == reflect.Array {
			arr := reflect.New(ip.Type).Elem()
			reflect.Copy(arr, slice)
			return arr.Interface(), nil
		}
		return slice.Interface(), nil
	}
}

// resolveSingleMatch implements SPEC_FULL.md §4.6 step 5.
func (c *Container) resolveSingleMatch(ip InjectionPoint) (interface{}, error) {
	candidates := c.candidatesFor(ip.Type, ip.RequestingBean)
	if resolvable := c.resolvableDependencyFor(ip.Type); resolvable != nil {
		return resolvable, nil
	}
	if len(candidates) == 0 {
		if ip.Optional {
			return reflect.Zero(ip.Type).Interface(), nil
		}
		return nil, noSuchBeanOfTypeErr(ip.Type.String())
	}
	winner, err := c.pickCandidate(candidates, ip)
	if err != nil {
		return nil, err
	}
	instance, err := c.GetBean(winner.name)
	if err != nil {
		return nil, err
	}
	if ip.RequestingBean != "" {
		c.singletons.registerDependentBean(winner.name, ip.RequestingBean)
	}
	return instance, nil
}

func (c *Container) resolvableDependencyFor(t reflect.Type) interface{} {
	c.resolvableMu.RLock()
	defer c.resolvableMu.RUnlock()
	if v, ok := c.resolvableDependencies[t]; ok {
		return v
	}
	return nil
}

// pickCandidate applies the tie-breakers of SPEC_FULL.md §4.6 step 5.d: exactly one Primary wins;
// else a name match; else a qualifier match; else ambiguous.
func (c *Container) pickCandidate(candidates []candidate, ip InjectionPoint) (*candidate, error) {
	if len(candidates) == 1 {
		return &candidates[0], nil
	}

	var primaries []candidate
	for _, cand := range candidates {
		if cand.def.Primary {
			primaries = append(primaries, cand)
		}
	}
	if len(primaries) == 1 {
		return &primaries[0], nil
	}
	if len(primaries) > 1 {
		return nil, c.ambiguousErr(ip.Type, candidates)
	}

	if ip.Name != "" {
		for _, cand := range candidates {
			if cand.name == ip.Name {
				return &cand, nil
			}
		}
	}

	if ip.Qualifier != "" {
		var qualified []candidate
		for _, cand := range candidates {
			if cand.def.Qualifier == ip.Qualifier {
				qualified = append(qualified, cand)
			}
		}
		if len(qualified) == 1 {
			return &qualified[0], nil
		}
	}

	return nil, c.ambiguousErr(ip.Type, candidates)
}

func (c *Container) ambiguousErr(t reflect.Type, candidates []candidate) error {
	names := make([]string, len(candidates))
	for i, cand := range candidates {
		names[i] = cand.name
	}
	return noUniqueBeanErr(t.String(), names)
}
