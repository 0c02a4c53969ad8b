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

	pkgerrors "github.com/pkg/errors"
)

// GetBean returns the bean registered under name, creating it if necessary. It is the primary
// entry point of the Bean-factory API (SPEC_FULL.md §6).
func (c *Container) GetBean(name string) (interface{}, error) {
	return c.getBean(name, nil)
}

// GetBeanAs is a convenience wrapper that also verifies assignability to t.
func (c *Container) GetBeanAs(name string, t reflect.Type) (interface{}, error) {
	instance, err := c.GetBean(name)
	if err != nil {
		return nil, err
	}
	if !reflect.TypeOf(instance).AssignableTo(t) {
		return nil, noSuchBeanOfTypeErr(t.String())
	}
	return instance, nil
}

// GetBeanByType performs a single-match lookup by type, applying the same tie-breakers as
// constructor/property autowiring (SPEC_FULL.md §4.6 step 5).
func (c *Container) GetBeanByType(t reflect.Type) (interface{}, error) {
	return c.resolveSingleMatch(InjectionPoint{Type: t})
}

// GetBeanByTypeWithArgs looks up (creating if necessary, prototype-scoped beans only) a bean by
// type, passing args as explicit constructor arguments for this one creation.
func (c *Container) GetBeanByTypeWithArgs(t reflect.Type, args ...interface{}) (interface{}, error) {
	candidates := c.candidatesFor(t, "")
	if len(candidates) == 0 {
		return nil, noSuchBeanOfTypeErr(t.String())
	}
	winner, err := c.pickCandidate(candidates, InjectionPoint{Type: t})
	if err != nil {
		return nil, err
	}
	return c.getBean(winner.name, args)
}

// GetBeansOfType returns every currently-registered bean assignable to t, keyed by name.
func (c *Container) GetBeansOfType(t reflect.Type) (map[string]interface{}, error) {
	candidates := c.candidatesFor(t, "")
	out := make(map[string]interface{}, len(candidates))
	for _, cand := range candidates {
		instance, err := c.GetBean(cand.name)
		if err != nil {
			return nil, err
		}
		out[cand.name] = instance
	}
	return out, nil
}

// GetBeanNamesForType enumerates definition names assignable to t. includeNonSingletons controls
// whether prototype-scoped definitions are included. allowEagerInit is accepted but not consulted:
// candidates are matched by predicted type and no definition is instantiated here.
func (c *Container) GetBeanNamesForType(t reflect.Type, includeNonSingletons bool, allowEagerInit bool) []string {
	var names []string
	for _, cand := range c.candidatesFor(t, "") {
		if !includeNonSingletons && cand.def.Scope != Singleton {
			continue
		}
		_ = allowEagerInit // the default predictBeanType never needs to eagerly instantiate
		names = append(names, cand.name)
	}
	return names
}

// GetType returns the predicted type of name without necessarily instantiating it, unless
// allowFactoryBeanInit is set and the definition is a FactoryBean whose product type can only be
// learned by invoking it.
func (c *Container) GetType(name string, allowFactoryBeanInit bool) (reflect.Type, error) {
	canonical := c.aliases.canonicalName(name)
	if instance, ok := c.singletons.getSingleton(canonical); ok {
		return reflect.TypeOf(instance), nil
	}
	def, err := c.GetMergedBeanDefinition(canonical)
	if err != nil {
		return nil, err
	}
	if t := c.predictBeanType(canonical, def); t != nil {
		return t, nil
	}
	if allowFactoryBeanInit {
		instance, err := c.GetBean(canonical)
		if err != nil {
			return nil, err
		}
		return reflect.TypeOf(instance), nil
	}
	return nil, nil
}

// IsTypeMatch reports whether name's predicted (or actual) type is assignable to t.
func (c *Container) IsTypeMatch(name string, t reflect.Type) (bool, error) {
	actual, err := c.GetType(name, true)
	if err != nil {
		return false, err
	}
	if actual == nil {
		return false, nil
	}
	return actual.AssignableTo(t), nil
}

func (c *Container) getBean(name string, args []interface{}) (interface{}, error) {
	canonical := c.aliases.canonicalName(name)

	if c.isDestroyed() {
		return nil, errAlreadyDestroyed
	}
	if c.singletons.isInDestruction() {
		return nil, errInDestruction
	}

	if !c.definitions.containsBeanDefinition(canonical) {
		if instance, ok := c.singletons.getSingleton(canonical); ok {
			return instance, nil
		}
		if c.parent != nil {
			return c.parent.getBean(name, args)
		}
		return nil, noSuchBeanErr(canonical)
	}

	def, err := c.GetMergedBeanDefinition(canonical)
	if err != nil {
		return nil, err
	}

	if handler, ok := c.customScopeHandler(def.Scope); ok {
		if handler.BoundToContext() {
			return nil, errRequestScopedDirect
		}
		return handler.Get(canonical, func() (interface{}, error) {
			return c.createBean(canonical, def, args)
		})
	}

	if def.Scope == Prototype {
		return c.createBean(canonical, def, args)
	}

	// Singleton: the creation engine runs as the factory passed to the singleton registry so
	// that beforeSingletonCreation/afterSingletonCreation and early exposure happen around it.
	return c.singletons.getOrCreateSingleton(canonical, func() (interface{}, error) {
		return c.createBean(canonical, def, args)
	})
}

// getBeanForContextScope is the one legitimate way to obtain a context-bound-scope bean: used by
// Middleware, which has the request lifecycle context GetBean itself lacks.
func (c *Container) getBeanForContextScope(name string) (interface{}, error) {
	canonical := c.aliases.canonicalName(name)
	def, err := c.GetMergedBeanDefinition(canonical)
	if err != nil {
		return nil, err
	}
	handler, ok := c.customScopeHandler(def.Scope)
	if !ok || !handler.BoundToContext() {
		return nil, pkgerrors.Errorf("bean '%s' is not bound to a context scope", name)
	}
	return handler.Get(canonical, func() (interface{}, error) {
		return c.createBean(canonical, def, nil)
	})
}

func (c *Container) customScopeHandler(scope Scope) (ScopeHandler, bool) {
	if scope == Singleton || scope == Prototype {
		return nil, false
	}
	return c.scopeHandler(scope)
}

// createBean runs the Creation Engine steps of SPEC_FULL.md §4.5.
func (c *Container) createBean(name string, def *MergedBeanDefinition, args []interface{}) (instance interface{}, err error) {
	defer func() {
		if err != nil {
			c.log.WithError(err).WithField("beanID", name).Debug("Bean creation failed")
		}
	}()

	// Step 1: resolve type.
	beanType := def.BeanType
	if beanType == nil && def.ClassName != "" {
		beanType, err = c.typeResolver.ResolveType(def.ClassName)
		if err != nil {
			return nil, beanDefinitionStoreErr(name, err)
		}
	}

	// Step 2: prepare method overrides.
	if err := c.prepareMethodOverrides(name, beanType, def); err != nil {
		return nil, err
	}

	// Step 3: pre-instantiation shortcut.
	if beanType != nil {
		shortcut, perr := c.processors.beforeInstantiation(beanType, name)
		if perr != nil {
			return nil, beanCreationFailureErr(name, "BeforeInstantiation", perr)
		}
		if shortcut != nil {
			return c.finalizeShortcutBean(name, shortcut)
		}
	}

	// Step 6: merged-definition post-processing, exactly once per merged definition.
	c.postProcessMergedDefinitionOnce(def, beanType, name)

	raw, earlyExposed, err := c.instantiateBean(name, def, beanType, args)
	if err != nil {
		if cerr, ok := err.(*ContainerError); ok && cerr.Kind == KindCurrentlyInCreation {
			return nil, cerr
		}
		return nil, beanCreationFailureErr(name, "instantiation", err)
	}

	if err := c.populateProperties(name, def, raw); err != nil {
		return nil, err
	}

	initialized, err := c.initializeBean(name, raw, def)
	if err != nil {
		return nil, err
	}

	result := initialized
	if earlyExposed {
		result, err = c.reconcileEarlyReference(name, raw, initialized)
		if err != nil {
			return nil, err
		}
	}

	if fb, ok := result.(FactoryBean); ok {
		product, ferr := c.factoryBeans.getProduct(name, fb, c.isSyntheticFactory(def), func(p interface{}) (interface{}, error) {
			return c.processors.afterInitialization(p, name)
		})
		if ferr != nil {
			return nil, beanCreationFailureErr(name, "ProduceBean", ferr)
		}
		c.registerForDestructionIfNeededAnyType(name, product)
		return product, nil
	}

	c.registerForDestructionIfNeeded(name, result, def)

	return result, nil
}

// isSyntheticFactory reports whether def's FactoryBean product should skip the post-init hook,
// per SPEC_FULL.md §4.3. Set via BeanDefinition.Attributes["synthetic"]=true.
func (c *Container) isSyntheticFactory(def *MergedBeanDefinition) bool {
	synthetic, _ := def.Attributes["synthetic"].(bool)
	return synthetic
}

// prepareMethodOverrides implements Creation Engine Step 2: every method-lookup override must
// name a method that actually exists on beanType.
func (c *Container) prepareMethodOverrides(name string, beanType reflect.Type, def *MergedBeanDefinition) error {
	if len(def.MethodOverrides) == 0 || beanType == nil {
		return nil
	}
	for _, override := range def.MethodOverrides {
		if _, ok := beanType.MethodByName(override.MethodName); !ok {
			return beanDefinitionStoreErr(name, pkgerrors.Errorf(
				"method override names '%s' on bean '%s', but %s has no such method", override.MethodName, name, beanType))
		}
	}
	return nil
}

// finalizeShortcutBean skips straight to after-initialization, per Step 3.
func (c *Container) finalizeShortcutBean(name string, bean interface{}) (interface{}, error) {
	result, err := c.processors.afterInitialization(bean, name)
	if err != nil {
		return nil, beanCreationFailureErr(name, "AfterInitialization", err)
	}
	c.registerForDestructionIfNeededAnyType(name, result)
	return result, nil
}

func (c *Container) postProcessMergedDefinitionOnce(def *MergedBeanDefinition, beanType reflect.Type, name string) {
	def.mu.Lock()
	already := def.definitionPostProcessed
	def.definitionPostProcessed = true
	def.mu.Unlock()
	if already {
		return
	}
	c.processors.postProcessMergedDefinition(def, beanType, name)
}

// instantiateBean performs Creation Engine Step 4, and installs early exposure (Step 7) only on the
// default path that allocates beanType itself; instances from a supplier, factory method or
// constructor function are populated afterwards too, but are not exposed early.
func (c *Container) instantiateBean(name string, def *MergedBeanDefinition, beanType reflect.Type, args []interface{}) (interface{}, bool, error) {
	switch {
	case def.InstanceSupplier != nil:
		instance, err := def.InstanceSupplier()
		return instance, false, err

	case def.FactoryMethodName != "" || def.FactoryBeanName != "":
		instance, err := c.instantiateViaFactoryMethod(name, def, args)
		return instance, false, err

	case def.ConstructorFunc != nil:
		instance, err := c.instantiateViaConstructorFunc(name, def, args)
		return instance, false, err

	default:
		if beanType == nil {
			return nil, false, pkgerrors.Errorf("bean '%s' has no resolvable type or construction recipe", name)
		}
		if beanType.Kind() != reflect.Ptr {
			return nil, false, pkgerrors.Errorf("bean type for '%s' must be a pointer, got %s", name, beanType)
		}
		instance := reflect.New(beanType.Elem()).Interface()

		earlyExposed := false
		if def.Scope == Singleton && c.allowCircularReferences() && c.singletons.isCurrentlyInCreation(name) {
			c.singletons.addEarlyFactory(name, func() (interface{}, error) {
				return c.processors.getEarlyReference(instance, name)
			})
			earlyExposed = true
		}
		return instance, earlyExposed, nil
	}
}

func (c *Container) allowCircularReferences() bool { return true }

func (c *Container) instantiateViaConstructorFunc(name string, def *MergedBeanDefinition, explicitArgs []interface{}) (interface{}, error) {
	fn := reflect.ValueOf(def.ConstructorFunc)
	if fn.Kind() != reflect.Func {
		return nil, pkgerrors.Errorf("ConstructorFunc for bean '%s' is not a function", name)
	}
	args, err := c.resolveFuncArgs(name, fn.Type(), def.ConstructorArgs, explicitArgs)
	if err != nil {
		return nil, err
	}
	return callFunc(fn, args)
}

func (c *Container) instantiateViaFactoryMethod(name string, def *MergedBeanDefinition, explicitArgs []interface{}) (interface{}, error) {
	var receiver reflect.Value
	if def.FactoryBeanName != "" {
		factoryInstance, err := c.GetBean(def.FactoryBeanName)
		if err != nil {
			return nil, err
		}
		c.singletons.registerDependentBean(def.FactoryBeanName, name)
		receiver = reflect.ValueOf(factoryInstance)
	}

	var method reflect.Value
	if receiver.IsValid() {
		method = receiver.MethodByName(def.FactoryMethodName)
	} else if def.BeanType != nil {
		method = reflect.New(def.BeanType.Elem()).MethodByName(def.FactoryMethodName)
	}
	if !method.IsValid() {
		return nil, pkgerrors.Errorf("factory method '%s' not found for bean '%s'", def.FactoryMethodName, name)
	}

	args, err := c.resolveFuncArgs(name, method.Type(), def.ConstructorArgs, explicitArgs)
	if err != nil {
		return nil, err
	}
	return callFunc(method, args)
}

// resolveFuncArgs resolves every parameter of fnType: call arguments, then explicit indexed values,
// then generic values by position win, else the Dependency Resolver supplies one by type (Step 5).
// Named values are not consulted.
func (c *Container) resolveFuncArgs(beanName string, fnType reflect.Type, explicit *ConstructorArgumentValues, callArgs []interface{}) ([]reflect.Value, error) {
	n := fnType.NumIn()
	args := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		paramType := fnType.In(i)
		if i < len(callArgs) {
			args[i] = reflect.ValueOf(callArgs[i])
			continue
		}
		if explicit != nil {
			if vh, ok := explicit.Indexed[i]; ok {
				converted, err := c.typeConverter.Convert(vh.Value, paramType)
				if err != nil {
					return nil, unsatisfiedDependencyErr(beanName, strconv.Itoa(i), err)
				}
				args[i] = reflect.ValueOf(converted)
				continue
			}
			if i < len(explicit.Generic) {
				converted, err := c.typeConverter.Convert(explicit.Generic[i].Value, paramType)
				if err != nil {
					return nil, unsatisfiedDependencyErr(beanName, strconv.Itoa(i), err)
				}
				args[i] = reflect.ValueOf(converted)
				continue
			}
		}
		resolved, err := c.resolve(InjectionPoint{Type: paramType, RequestingBean: beanName})
		if err != nil {
			if cerr, ok := err.(*ContainerError); ok && cerr.Kind == KindCurrentlyInCreation {
				return nil, cerr
			}
			return nil, unsatisfiedDependencyErr(beanName, strconv.Itoa(i), err)
		}
		args[i] = reflect.ValueOf(resolved)
	}
	return args, nil
}

func callFunc(fn reflect.Value, args []reflect.Value) (interface{}, error) {
	out := fn.Call(args)
	switch len(out) {
	case 1:
		return out[0].Interface(), nil
	case 2:
		var err error
		if !out[1].IsNil() {
			err = out[1].Interface().(error)
		}
		return out[0].Interface(), err
	default:
		return nil, pkgerrors.Errorf("constructor/factory function must return (T) or (T, error), got %d results", len(out))
	}
}

// initializeBean performs Creation Engine Step 9.
func (c *Container) initializeBean(name string, bean interface{}, def *MergedBeanDefinition) (interface{}, error) {
	if aware, ok := bean.(BeanNameAware); ok {
		aware.SetBeanName(name)
	}
	if aware, ok := bean.(TypeResolverAware); ok {
		aware.SetTypeResolver(c.typeResolver)
	}
	if aware, ok := bean.(BeanFactoryAware); ok {
		aware.SetBeanFactory(c)
	}

	current, err := c.processors.beforeInitialization(bean, name)
	if err != nil {
		return nil, beanCreationFailureErr(name, "BeforeInitialization", err)
	}

	if initializing, ok := current.(InitializingBean); ok {
		c.log.WithField("beanID", name).Trace("Initializing bean")
		if err := initializing.PostConstruct(); err != nil {
			return nil, beanCreationFailureErr(name, "PostConstruct", err)
		}
	}

	if def.InitMethodName != "" {
		method := reflect.ValueOf(current).MethodByName(def.InitMethodName)
		if method.IsValid() {
			if err := invokeNoArgLifecycleMethod(method); err != nil {
				return nil, beanCreationFailureErr(name, def.InitMethodName, err)
			}
		}
	}

	current, err = c.processors.afterInitialization(current, name)
	if err != nil {
		return nil, beanCreationFailureErr(name, "AfterInitialization", err)
	}
	return current, nil
}

func invokeNoArgLifecycleMethod(method reflect.Value) error {
	out := method.Call(nil)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// reconcileEarlyReference implements Creation Engine Step 10.
func (c *Container) reconcileEarlyReference(name string, raw interface{}, finalResult interface{}) (interface{}, error) {
	earlyRef, taken := c.singletons.wasEarlyReferenceTaken(name)
	if !taken {
		return finalResult, nil
	}
	if earlyRef == finalResult {
		return finalResult, nil
	}
	// AfterInitialization kept the raw instance, so the early reference every injectee holds stands.
	if finalResult == raw {
		return earlyRef, nil
	}
	if c.allowRawInjectionDespiteWrapping() {
		return earlyRef, nil
	}
	dependents := c.singletons.dependentBeanNames(name)
	return nil, currentlyInCreationErr(name, pkgerrors.Errorf(
		"bean '%s' has been injected into other beans %v in its raw form, but the final wrapped form does not match: "+
			"consider exposing the wrapper earlier via GetEarlyReference, or set AllowRawInjectionDespiteWrapping", name, dependents))
}

func (c *Container) allowRawInjectionDespiteWrapping() bool { return c.allowRawInjection }

// registerForDestructionIfNeeded implements Creation Engine Step 11 for the struct-tag path.
func (c *Container) registerForDestructionIfNeeded(name string, bean interface{}, def *MergedBeanDefinition) {
	if def.Scope != Singleton {
		return
	}
	c.registerForDestructionIfNeededAnyType(name, bean)
	if def.DestroyMethodName != "" {
		method := reflect.ValueOf(bean).MethodByName(def.DestroyMethodName)
		if method.IsValid() {
			c.singletons.registerDisposableBean(name, func() error {
				return invokeNoArgLifecycleMethod(method)
			})
		}
	}
}

func (c *Container) registerForDestructionIfNeededAnyType(name string, bean interface{}) {
	if disposable, ok := bean.(DisposableBean); ok {
		c.singletons.registerDisposableBean(name, disposable.Destroy)
		return
	}
	if c.processors.requiresDestruction(bean) {
		c.singletons.registerDisposableBean(name, func() error {
			return c.processors.beforeDestruction(bean, name)
		})
	}
}
