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
	"sync"
)

// Scope is the lifecycle policy of a bean. Singleton, Prototype and RequestScope are always
// registered; anything else must be registered with RegisterScope before a definition can
// reference it.
type Scope string

const (
	// Singleton beans exist in exactly one copy per container, created eagerly unless LazyInit.
	Singleton Scope = "singleton"
	// Prototype beans are constructed fresh on every lookup; the container retains no reference
	// and does not manage their destruction.
	Prototype Scope = "prototype"
)

// AutowireMode controls how the creation engine supplies a bean's collaborators when no explicit
// value was given.
type AutowireMode int

const (
	// AutowireNone performs no autowiring beyond explicitly supplied values.
	AutowireNone AutowireMode = iota
	// AutowireByName matches unset writable properties to bean names.
	AutowireByName
	// AutowireByType matches unset writable properties to a uniquely assignable bean.
	AutowireByType
	// AutowireConstructor resolves constructor-function parameters via the dependency resolver.
	AutowireConstructor
)

// Role affects only reporting; it has no bearing on creation order or visibility.
type Role int

const (
	RoleApplication Role = iota
	RoleSupport
	RoleInfrastructure
)

// InitializingBean mirrors the teacher's exact marker interface: a bean implementing it is given
// a chance to finish its own setup once the container has populated its properties.
type InitializingBean interface {
	PostConstruct() error
}

// DisposableBean is the destruction-time counterpart of InitializingBean.
type DisposableBean interface {
	Destroy() error
}

// FactoryBean is a user bean whose *product*, not the factory itself, is the object published
// under its registered name (GLOSSARY: Factory bean).
type FactoryBean interface {
	// ProduceBean returns the real bean instance.
	ProduceBean() (interface{}, error)
	// ProductType reports the type that ProduceBean returns, when known without invoking it.
	ProductType() reflect.Type
	// IsSingleton reports whether ProduceBean should be called once and cached.
	IsSingleton() bool
}

// BeanNameAware, BeanFactoryAware and TypeResolverAware are the "aware" interfaces invoked during
// Step 9.1 of the creation engine, before any post-processor sees the bean.
type BeanNameAware interface {
	SetBeanName(name string)
}

type BeanFactoryAware interface {
	SetBeanFactory(factory *Container)
}

type TypeResolverAware interface {
	SetTypeResolver(resolver TypeResolver)
}

// RuntimeBeanReference is a PropertyValues/ConstructorArgumentValues entry that names another
// bean to be resolved and injected, as opposed to a literal value.
type RuntimeBeanReference struct {
	BeanName string
}

// AutowiredMarker, used as a PropertyValue's Value, requests that the creation engine resolve the
// property via the dependency resolver rather than treat the field as explicitly unset.
type AutowiredMarker struct{}

// InnerBeanDefinition wraps a BeanDefinition declared inline inside another bean's property or
// constructor argument. Inner beans are anonymous: they participate in dependency-edge tracking
// (containment) but are never independently addressable by name.
type InnerBeanDefinition struct {
	Definition *BeanDefinition
}

// ManagedList/ManagedMap hold ordered collections of values (which may themselves be
// RuntimeBeanReference, literals, or nested InnerBeanDefinitions) for multi-match injection
// points declared as a slice or map property.
type ManagedList []interface{}
type ManagedMap map[string]interface{}

// PropertyValue is one name -> value entry of a bean definition.
type PropertyValue struct {
	Name  string
	Value interface{}

	resolvedOnce  bool
	resolvedValue interface{}
}

// ValueHolder is one constructor-argument entry, positional (Index >= 0) or carrying a parameter
// Name. Argument resolution reads only Value; Name and Type are stored but not consulted.
type ValueHolder struct {
	Index int // -1 when supplied by Name only
	Name  string
	Value interface{}
	Type  reflect.Type // optional explicit type hint; not consulted during argument resolution
}

// ConstructorArgumentValues holds both positional and named constructor/factory-method arguments.
// Indexed and Generic entries are applied by parameter position; Named entries are not applied.
type ConstructorArgumentValues struct {
	Indexed map[int]*ValueHolder
	Named   map[string]*ValueHolder
	Generic []*ValueHolder
}

func NewConstructorArgumentValues() *ConstructorArgumentValues {
	return &ConstructorArgumentValues{
		Indexed: make(map[int]*ValueHolder),
		Named:   make(map[string]*ValueHolder),
	}
}

func (c *ConstructorArgumentValues) AddIndexedArgumentValue(index int, value interface{}) {
	c.Indexed[index] = &ValueHolder{Index: index, Value: value}
}

func (c *ConstructorArgumentValues) AddNamedArgumentValue(name string, value interface{}) {
	c.Named[name] = &ValueHolder{Index: -1, Name: name, Value: value}
}

func (c *ConstructorArgumentValues) AddGenericArgumentValue(value interface{}) {
	c.Generic = append(c.Generic, &ValueHolder{Index: -1, Value: value})
}

func (c *ConstructorArgumentValues) Empty() bool {
	return c == nil || (len(c.Indexed) == 0 && len(c.Named) == 0 && len(c.Generic) == 0)
}

// MethodOverride names a method (MethodName) and a bean (BeanName) on a definition. The engine
// only verifies that MethodName exists on the bean type; calls to the method are not redirected.
type MethodOverride struct {
	MethodName string
	BeanName   string
}

// BeanDefinition is the declarative recipe for one bean, as described in SPEC_FULL.md §3.
//
// A definition is either mutable or frozen; once Container.FreezeConfiguration has run, further
// mutation through RegisterBeanDefinition is governed solely by the container's
// allow-bean-definition-overriding flag, not by any field on the definition itself.
type BeanDefinition struct {
	Name      string
	ClassName string
	BeanType  reflect.Type

	ParentName string

	Scope    Scope
	LazyInit bool

	DependsOn []string

	AutowireMode AutowireMode
	Primary      bool
	// ExcludeFromAutowiring opts a definition out of autowire candidacy entirely (the inverse
	// polarity of the spec's "autowireCandidate=false", chosen so the Go zero value means
	// "eligible", matching every other boolean default in this struct).
	ExcludeFromAutowiring bool
	Qualifier             string

	FactoryBeanName   string
	FactoryMethodName string
	ConstructorFunc   interface{} // a func(...) (T) or func(...) (T, error)
	InstanceSupplier  func() (interface{}, error)

	ConstructorArgs *ConstructorArgumentValues
	PropertyValues  []PropertyValue

	// MethodOverrides names methods on BeanType that a lookup-method override applies to
	// (GLOSSARY: "Method override"). Go has no CGLIB-style bytecode rewriting to redirect the
	// call itself; the Creation Engine's Step 2 only verifies the named methods exist, failing
	// the same way an unresolvable factory method does.
	MethodOverrides []MethodOverride

	InitMethodName    string
	DestroyMethodName string

	Role Role

	Attributes map[string]interface{}

	mu                      sync.Mutex
	resolvedConstructor     reflect.Value
	definitionPostProcessed bool
}

// Clone returns a shallow copy suitable for use as a merge target; slice/map fields are
// deep-copied one level so that overlaying a child definition never mutates the parent.
func (d *BeanDefinition) Clone() *BeanDefinition {
	clone := *d
	clone.mu = sync.Mutex{}
	if d.DependsOn != nil {
		clone.DependsOn = append([]string(nil), d.DependsOn...)
	}
	if d.PropertyValues != nil {
		clone.PropertyValues = append([]PropertyValue(nil), d.PropertyValues...)
	}
	if d.MethodOverrides != nil {
		clone.MethodOverrides = append([]MethodOverride(nil), d.MethodOverrides...)
	}
	if d.Attributes != nil {
		clone.Attributes = make(map[string]interface{}, len(d.Attributes))
		for k, v := range d.Attributes {
			clone.Attributes[k] = v
		}
	}
	if d.ConstructorArgs != nil {
		ca := &ConstructorArgumentValues{
			Indexed: make(map[int]*ValueHolder, len(d.ConstructorArgs.Indexed)),
			Named:   make(map[string]*ValueHolder, len(d.ConstructorArgs.Named)),
			Generic: append([]*ValueHolder(nil), d.ConstructorArgs.Generic...),
		}
		for k, v := range d.ConstructorArgs.Indexed {
			vv := *v
			ca.Indexed[k] = &vv
		}
		for k, v := range d.ConstructorArgs.Named {
			vv := *v
			ca.Named[k] = &vv
		}
		clone.ConstructorArgs = ca
	}
	return &clone
}

// HasConstructionRecipe reports whether at least one construction recipe (InstanceSupplier,
// ConstructorFunc or FactoryMethodName) is set. Setting several is not rejected: the engine uses
// the instance supplier first, then the factory method, then the constructor function.
func (d *BeanDefinition) HasConstructionRecipe() bool {
	count := 0
	if d.InstanceSupplier != nil {
		count++
	}
	if d.ConstructorFunc != nil {
		count++
	}
	if d.FactoryMethodName != "" {
		count++
	}
	return count >= 1
}

// MergedBeanDefinition is the fully overlaid view of a BeanDefinition after walking its parent
// chain. It is what the creation engine actually consumes.
type MergedBeanDefinition struct {
	*BeanDefinition
	SourceChain []string // names walked from root ancestor to this definition, for diagnostics
}
