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
	"strconv"
	"sync/atomic"
	"unsafe"

	pkgerrors "github.com/pkg/errors"
)

// populateProperties implements Creation Engine Step 8. It generalizes the teacher's struct-tag
// injection (`di.inject`, `di.scope`, `di.optional`) into one field walk that also honors
// explicit PropertyValues and by-name/by-type autowiring, in that precedence order.
func (c *Container) populateProperties(name string, def *MergedBeanDefinition, bean interface{}) error {
	if bean == nil {
		return nil
	}
	beanValue := reflect.ValueOf(bean)
	if beanValue.Kind() != reflect.Ptr || beanValue.Elem().Kind() != reflect.Struct {
		// Only pointer-to-struct beans have fields to walk, whichever recipe produced them.
		return nil
	}

	cont, err := c.runAfterInstantiationHook(bean, name)
	if err != nil {
		return err
	}
	if !cont {
		return nil
	}

	structValue := beanValue.Elem()
	structType := structValue.Type()

	pvs, ok, err := c.processors.postProcessProperties(def.PropertyValues, bean, name)
	if err != nil {
		return beanCreationFailureErr(name, "PostProcessProperties", err)
	}
	if !ok {
		return nil
	}

	explicitByName := make(map[string]PropertyValue, len(pvs))
	for _, pv := range pvs {
		explicitByName[pv.Name] = pv
	}

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		if pv, ok := explicitByName[field.Name]; ok {
			if err := c.applyPropertyValue(name, fieldValue, field, pv); err != nil {
				return err
			}
			continue
		}

		if beanID, ok := field.Tag.Lookup("di.inject"); ok {
			if err := c.applyTagInjection(name, fieldValue, field, beanID); err != nil {
				return err
			}
			continue
		}

		if isZeroInjectable(fieldValue) {
			switch def.AutowireMode {
			case AutowireByName:
				if err := c.autowireByName(name, fieldValue, field); err != nil {
					return err
				}
			case AutowireByType:
				if err := c.autowireByType(name, fieldValue, field); err != nil {
					return err
				}
			}
		}
	}

	if err := c.checkDependencies(name, def, structValue, structType, explicitByName); err != nil {
		return err
	}

	return nil
}

func (c *Container) runAfterInstantiationHook(bean interface{}, name string) (bool, error) {
	cont, err := c.processors.afterInstantiation(bean, name)
	if err != nil {
		return false, beanCreationFailureErr(name, "AfterInstantiation", err)
	}
	return cont, nil
}

func isZeroInjectable(fieldValue reflect.Value) bool {
	if !fieldValue.CanSet() {
		return false
	}
	switch fieldValue.Kind() {
	case reflect.Ptr, reflect.Interface:
		return fieldValue.IsNil()
	default:
		return false
	}
}

// settableField returns an addressable, settable Value for an unexported field, mirroring the
// teacher's unsafe-pointer trick in di.go's injectDependencies, since Go's reflect package
// refuses to Set unexported fields directly even when the containing struct is addressable.
func settableField(fieldValue reflect.Value) reflect.Value {
	if fieldValue.CanSet() {
		return fieldValue
	}
	return reflect.NewAt(fieldValue.Type(), unsafe.Pointer(fieldValue.UnsafeAddr())).Elem()
}

func (c *Container) applyTagInjection(beanName string, fieldValue reflect.Value, field reflect.StructField, beanID string) error {
	settable := settableField(fieldValue)
	if settable.Kind() != reflect.Ptr && settable.Kind() != reflect.Interface {
		return pkgerrors.Errorf("unsupported dependency type for field '%s' on bean '%s': all di.inject injections must be done by reference", field.Name, beanName)
	}

	if settable.Type() == reflect.TypeOf((*LazyBean)(nil)) {
		settable.Set(reflect.ValueOf(c.newLazyDelegate(InjectionPoint{Name: beanID, RequestingBean: beanName, cachedBeanName: beanID})))
		return nil
	}

	if !c.ContainsBean(beanID) {
		optional := field.Tag.Get("di.optional")
		if optional != "" {
			value, err := strconv.ParseBool(optional)
			if err != nil {
				return pkgerrors.Errorf("invalid di.optional value '%s' on field '%s' of bean '%s'", optional, field.Name, beanName)
			}
			if value {
				c.log.WithFields(loggerFields(beanName, field.Name, beanID)).Trace("No dependency found, leaving field nil since it is marked optional")
				return nil
			}
		}
		return unsatisfiedDependencyErr(beanName, field.Name, noSuchBeanErr(beanID))
	}

	instance, err := c.GetBean(beanID)
	if err != nil {
		return unsatisfiedDependencyErr(beanName, field.Name, err)
	}
	c.singletons.registerDependentBean(c.aliases.canonicalName(beanID), beanName)
	settable.Set(reflect.ValueOf(instance))
	return nil
}

func loggerFields(beanName, fieldName, dep string) map[string]interface{} {
	return map[string]interface{}{"bean": beanName, "field": fieldName, "dependency": dep}
}

func (c *Container) autowireByName(beanName string, fieldValue reflect.Value, field reflect.StructField) error {
	if !c.ContainsBean(field.Name) {
		return nil
	}
	instance, err := c.GetBean(field.Name)
	if err != nil {
		return nil
	}
	if !reflect.TypeOf(instance).AssignableTo(field.Type) {
		return nil
	}
	settableField(fieldValue).Set(reflect.ValueOf(instance))
	c.singletons.registerDependentBean(c.aliases.canonicalName(field.Name), beanName)
	return nil
}

func (c *Container) autowireByType(beanName string, fieldValue reflect.Value, field reflect.StructField) error {
	ip := InjectionPoint{Type: field.Type, RequestingBean: beanName, Optional: true}
	if q, ok := field.Tag.Lookup("di.qualifier"); ok {
		ip.Qualifier = q
	}
	resolved, err := c.resolve(ip)
	if err != nil {
		return nil //nolint: by-type autowiring is always best-effort per SPEC_FULL.md step 8.2
	}
	if resolved == nil || reflect.ValueOf(resolved).IsZero() {
		return nil
	}
	settableField(fieldValue).Set(reflect.ValueOf(resolved))
	return nil
}

// applyPropertyValue implements the bulk of Step 8.5: resolve, convert, assign, cache.
func (c *Container) applyPropertyValue(beanName string, fieldValue reflect.Value, field reflect.StructField, pv PropertyValue) error {
	if pv.resolvedOnce {
		settableField(fieldValue).Set(reflect.ValueOf(pv.resolvedValue))
		return nil
	}
	resolved, err := c.resolvePropertyValue(beanName, field.Type, pv.Value)
	if err != nil {
		return unsatisfiedDependencyErr(beanName, field.Name, err)
	}
	converted, err := c.typeConverter.Convert(resolved, field.Type)
	if err != nil {
		return unsatisfiedDependencyErr(beanName, field.Name, err)
	}
	settableField(fieldValue).Set(reflect.ValueOf(converted))
	return nil
}

// resolvePropertyValue dereferences the runtime shapes a PropertyValue.Value may take, per
// SPEC_FULL.md §3/§4.5 Step 8.5.
func (c *Container) resolvePropertyValue(beanName string, fieldType reflect.Type, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case RuntimeBeanReference:
		instance, err := c.GetBean(v.BeanName)
		if err != nil {
			return nil, err
		}
		c.singletons.registerDependentBean(c.aliases.canonicalName(v.BeanName), beanName)
		return instance, nil
	case *RuntimeBeanReference:
		return c.resolvePropertyValue(beanName, fieldType, *v)
	case AutowiredMarker:
		return c.resolve(InjectionPoint{Type: fieldType, RequestingBean: beanName})
	case InnerBeanDefinition:
		return c.createInnerBean(beanName, v.Definition)
	case *InnerBeanDefinition:
		return c.createInnerBean(beanName, v.Definition)
	case ManagedList:
		elemType := fieldType.Elem()
		slice := reflect.MakeSlice(fieldType, 0, len(v))
		for _, item := range v {
			resolvedItem, err := c.resolvePropertyValue(beanName, elemType, item)
			if err != nil {
				return nil, err
			}
			converted, err := c.typeConverter.Convert(resolvedItem, elemType)
			if err != nil {
				return nil, err
			}
			slice = reflect.Append(slice, reflect.ValueOf(converted))
		}
		return slice.Interface(), nil
	case ManagedMap:
		elemType := fieldType.Elem()
		m := reflect.MakeMapWithSize(fieldType, len(v))
		for k, item := range v {
			resolvedItem, err := c.resolvePropertyValue(beanName, elemType, item)
			if err != nil {
				return nil, err
			}
			converted, err := c.typeConverter.Convert(resolvedItem, elemType)
			if err != nil {
				return nil, err
			}
			m.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(converted))
		}
		return m.Interface(), nil
	case string:
		return c.stringResolver.ResolveStringValue(v)
	default:
		return value, nil
	}
}

// createInnerBean gives an anonymously-declared definition a synthetic name, creates it, and
// records the containment dependency edge (SPEC_FULL.md §3 "containment").
func (c *Container) createInnerBean(outerName string, def *BeanDefinition) (interface{}, error) {
	seq := atomic.AddInt64(&c.innerBeanSeq, 1)
	innerName := outerName + "#inner" + strconv.FormatInt(seq, 10)
	merged := &MergedBeanDefinition{BeanDefinition: def.Clone(), SourceChain: []string{innerName}}
	merged.Name = innerName
	if merged.Scope == "" {
		merged.Scope = Prototype
	}
	instance, err := c.createBean(innerName, merged, nil)
	if err != nil {
		return nil, err
	}
	c.singletons.registerDependentBean(innerName, outerName)
	return instance, nil
}

// checkDependencies implements Step 8.4: when dependency checking is requested via
// BeanDefinition.Attributes["dependencyCheck"]=true, every writable, non-excluded property left
// unset after the steps above fails the creation with unsatisfied-dependency.
func (c *Container) checkDependencies(beanName string, def *MergedBeanDefinition, structValue reflect.Value, structType reflect.Type, explicit map[string]PropertyValue) error {
	enabled, _ := def.Attributes["dependencyCheck"].(bool)
	if !enabled {
		return nil
	}
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if _, ok := explicit[field.Name]; ok {
			continue
		}
		if _, ok := field.Tag.Lookup("di.inject"); ok {
			continue
		}
		if _, excluded := field.Tag.Lookup("di.ignoreDependencyCheck"); excluded {
			continue
		}
		fieldValue := structValue.Field(i)
		if isZeroInjectable(fieldValue) {
			return unsatisfiedDependencyErr(beanName, field.Name, pkgerrors.Errorf("property '%s' is required but was never set", field.Name))
		}
	}
	return nil
}
