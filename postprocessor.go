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
	"sync"

	"github.com/sirupsen/logrus"
)

// Per SPEC_FULL.md §9's "Deep inheritance / virtual dispatch in post-processors" design note,
// processors are not modeled as a class hierarchy. Each hook family is its own small interface;
// a concrete post-processor implements whichever subset it needs and the pipeline discovers its
// capabilities with a type assertion at dispatch time.

// Ordered lets a post-processor influence its position within its priority tier. Lower values
// run first. Processors that don't implement Ordered run after every Ordered processor within
// the same tier, in registration order.
type Ordered interface {
	Order() int
}

// PriorityOrdered marks a processor for the earliest tier, ahead of plain Ordered processors,
// mirroring the teacher ecosystem's "priority-ordered beans first, then ordered, then the rest"
// rule (SPEC_FULL.md §4.7).
type PriorityOrdered interface {
	Ordered
	priorityOrdered()
}

// priorityOrderedBase is embedded by processors that want PriorityOrdered without repeating the
// marker method.
type priorityOrderedBase struct{}

func (priorityOrderedBase) priorityOrdered() {}

// BeanPostProcessor is the umbrella marker accepted by Container.AddBeanPostProcessor. A
// concrete value normally implements one or more of the hook interfaces below; implementing none
// of them is legal but pointless.
type BeanPostProcessor interface{}

// InstantiationAwareBeanPostProcessor brackets raw instantiation: BeforeInstantiation (creation
// engine Step 3) and AfterInstantiation (Step 8.1).
type InstantiationAwareBeanPostProcessor interface {
	// BeforeInstantiation may return a non-nil object to short-circuit normal construction.
	BeforeInstantiation(beanType reflect.Type, beanName string) (interface{}, error)
	// AfterInstantiation returning false skips property population entirely.
	AfterInstantiation(bean interface{}, beanName string) (bool, error)
}

// PropertyValuesPostProcessor implements the Step 8.3 hook. A nil replacement (with nil error)
// short-circuits remaining property population, matching SPEC_FULL.md §4.5 Step 8.3.
type PropertyValuesPostProcessor interface {
	PostProcessProperties(pvs []PropertyValue, bean interface{}, beanName string) ([]PropertyValue, error)
}

// SmartInstantiationAwareBeanPostProcessor supplies candidate constructors (Step 4.1) and early
// references (Step 7).
type SmartInstantiationAwareBeanPostProcessor interface {
	// DetermineCandidateConstructors may return a non-nil slice to override normal constructor
	// selection.
	DetermineCandidateConstructors(beanType reflect.Type, beanName string) ([]reflect.Value, error)
	// GetEarlyReference may substitute instance (e.g. with a proxy) at early-exposure time.
	GetEarlyReference(instance interface{}, beanName string) (interface{}, error)
	// PredictType enables type-based lookups without instantiation.
	PredictType(beanName string, def *MergedBeanDefinition) reflect.Type
}

// InitializationAwareBeanPostProcessor brackets Step 9's init callback: BeforeInitialization and
// AfterInitialization. Returning a nil instance (with nil error) halts the chain, and the
// previous result stands.
type InitializationAwareBeanPostProcessor interface {
	BeforeInitialization(bean interface{}, beanName string) (interface{}, error)
	AfterInitialization(bean interface{}, beanName string) (interface{}, error)
}

// DestructionAwareBeanPostProcessor lets a processor claim destruction responsibility for a bean
// that has no DisposableBean/destroy-method contract of its own (Step 11).
type DestructionAwareBeanPostProcessor interface {
	RequiresDestruction(bean interface{}) bool
	BeforeDestruction(bean interface{}, beanName string) error
}

// MergedBeanDefinitionPostProcessor is invoked exactly once per merged definition (Step 6).
type MergedBeanDefinitionPostProcessor interface {
	PostProcessMergedBeanDefinition(def *MergedBeanDefinition, beanType reflect.Type, beanName string)
}

// BeanFactoryPostProcessor mutates existing definitions; it must not add new ones.
type BeanFactoryPostProcessor interface {
	PostProcessBeanFactory(registry *Container) error
}

// BeanDefinitionRegistryPostProcessor may additionally register new definitions; the pipeline
// iterates this family to a fixed point before running plain BeanFactoryPostProcessors.
type BeanDefinitionRegistryPostProcessor interface {
	BeanFactoryPostProcessor
	PostProcessBeanDefinitionRegistry(registry *Container) error
}

// postProcessorPipeline holds every registered instance-phase post-processor, sorted by priority
// tier then Order() then registration order, and dispatches each hook by type assertion
// (SPEC_FULL.md §4.7).
type postProcessorPipeline struct {
	mu         sync.RWMutex
	processors []BeanPostProcessor
	hasDestructionAware bool
	log        *logrus.Entry
}

func newPostProcessorPipeline(log *logrus.Entry) *postProcessorPipeline {
	return &postProcessorPipeline{log: log}
}

func (p *postProcessorPipeline) add(pp BeanPostProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processors = append(p.processors, pp)
	if _, ok := pp.(DestructionAwareBeanPostProcessor); ok {
		p.hasDestructionAware = true
	}
	p.sortLocked()
}

func (p *postProcessorPipeline) sortLocked() {
	type ranked struct {
		pp       BeanPostProcessor
		tier     int
		order    int
		position int
	}
	ranked2 := make([]ranked, len(p.processors))
	for i, pp := range p.processors {
		tier := 2
		order := 0
		if po, ok := pp.(PriorityOrdered); ok {
			tier = 0
			order = po.Order()
		} else if o, ok := pp.(Ordered); ok {
			tier = 1
			order = o.Order()
		}
		ranked2[i] = ranked{pp: pp, tier: tier, order: order, position: i}
	}
	sort.SliceStable(ranked2, func(i, j int) bool {
		if ranked2[i].tier != ranked2[j].tier {
			return ranked2[i].tier < ranked2[j].tier
		}
		if ranked2[i].order != ranked2[j].order {
			return ranked2[i].order < ranked2[j].order
		}
		return ranked2[i].position < ranked2[j].position
	})
	out := make([]BeanPostProcessor, len(ranked2))
	for i, r := range ranked2 {
		out[i] = r.pp
	}
	p.processors = out
}

func (p *postProcessorPipeline) snapshot() []BeanPostProcessor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]BeanPostProcessor, len(p.processors))
	copy(out, p.processors)
	return out
}

func (p *postProcessorPipeline) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.processors)
}

func (p *postProcessorPipeline) beforeInstantiation(beanType reflect.Type, beanName string) (interface{}, error) {
	for _, pp := range p.snapshot() {
		if iap, ok := pp.(InstantiationAwareBeanPostProcessor); ok {
			result, err := iap.BeforeInstantiation(beanType, beanName)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		}
	}
	return nil, nil
}

func (p *postProcessorPipeline) afterInstantiation(bean interface{}, beanName string) (bool, error) {
	cont := true
	for _, pp := range p.snapshot() {
		if iap, ok := pp.(InstantiationAwareBeanPostProcessor); ok {
			ok2, err := iap.AfterInstantiation(bean, beanName)
			if err != nil {
				return false, err
			}
			if !ok2 {
				cont = false
			}
		}
	}
	return cont, nil
}

func (p *postProcessorPipeline) postProcessProperties(pvs []PropertyValue, bean interface{}, beanName string) ([]PropertyValue, bool, error) {
	current := pvs
	for _, pp := range p.snapshot() {
		if ppp, ok := pp.(PropertyValuesPostProcessor); ok {
			next, err := ppp.PostProcessProperties(current, bean, beanName)
			if err != nil {
				return nil, false, err
			}
			if next == nil {
				return nil, false, nil
			}
			current = next
		}
	}
	return current, true, nil
}

func (p *postProcessorPipeline) determineCandidateConstructors(beanType reflect.Type, beanName string) ([]reflect.Value, error) {
	for _, pp := range p.snapshot() {
		if sp, ok := pp.(SmartInstantiationAwareBeanPostProcessor); ok {
			ctors, err := sp.DetermineCandidateConstructors(beanType, beanName)
			if err != nil {
				return nil, err
			}
			if ctors != nil {
				return ctors, nil
			}
		}
	}
	return nil, nil
}

func (p *postProcessorPipeline) getEarlyReference(instance interface{}, beanName string) (interface{}, error) {
	result := instance
	for _, pp := range p.snapshot() {
		if sp, ok := pp.(SmartInstantiationAwareBeanPostProcessor); ok {
			next, err := sp.GetEarlyReference(result, beanName)
			if err != nil {
				return nil, err
			}
			if next != nil {
				result = next
			}
		}
	}
	return result, nil
}

func (p *postProcessorPipeline) predictType(beanName string, def *MergedBeanDefinition) reflect.Type {
	for _, pp := range p.snapshot() {
		if sp, ok := pp.(SmartInstantiationAwareBeanPostProcessor); ok {
			if t := sp.PredictType(beanName, def); t != nil {
				return t
			}
		}
	}
	return nil
}

func (p *postProcessorPipeline) beforeInitialization(bean interface{}, beanName string) (interface{}, error) {
	current := bean
	for _, pp := range p.snapshot() {
		if iap, ok := pp.(InitializationAwareBeanPostProcessor); ok {
			next, err := iap.BeforeInitialization(current, beanName)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return current, nil
			}
			current = next
		}
	}
	return current, nil
}

func (p *postProcessorPipeline) afterInitialization(bean interface{}, beanName string) (interface{}, error) {
	current := bean
	for _, pp := range p.snapshot() {
		if iap, ok := pp.(InitializationAwareBeanPostProcessor); ok {
			next, err := iap.AfterInitialization(current, beanName)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return current, nil
			}
			current = next
		}
	}
	return current, nil
}

func (p *postProcessorPipeline) postProcessMergedDefinition(def *MergedBeanDefinition, beanType reflect.Type, beanName string) {
	for _, pp := range p.snapshot() {
		if mp, ok := pp.(MergedBeanDefinitionPostProcessor); ok {
			mp.PostProcessMergedBeanDefinition(def, beanType, beanName)
		}
	}
}

// requiresDestruction reports whether any destruction-aware processor claims bean, or it has an
// intrinsic destroy contract (checked by the caller separately).
func (p *postProcessorPipeline) requiresDestruction(bean interface{}) bool {
	if !p.hasDestructionAware {
		return false
	}
	for _, pp := range p.snapshot() {
		if dp, ok := pp.(DestructionAwareBeanPostProcessor); ok && dp.RequiresDestruction(bean) {
			return true
		}
	}
	return false
}

func (p *postProcessorPipeline) beforeDestruction(bean interface{}, beanName string) error {
	for _, pp := range p.snapshot() {
		if dp, ok := pp.(DestructionAwareBeanPostProcessor); ok && dp.RequiresDestruction(bean) {
			if err := dp.BeforeDestruction(bean, beanName); err != nil {
				p.log.WithError(err).WithField("beanID", beanName).Error("Destruction-aware post-processor failed, continuing")
			}
		}
	}
	return nil
}
