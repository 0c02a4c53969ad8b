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
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Fixed container-state sentinels. Tests assert on these by value, so they stay bare errors.New
// rather than wrapped ContainerErrors.
var (
	errAlreadyInitialized  = errors.New("container is already initialized: reinitialization is not supported")
	errInDestruction       = errors.New("container is currently being destroyed: can't create or look up beans")
	errAlreadyDestroyed    = errors.New("container has already been destroyed")
	errRequestScopedDirect = errors.New("request-scoped beans can't be retrieved directly from the container: they can only be retrieved from the web-context")
)

// maxSuppressedCauses bounds the suppressed-related-causes list carried by a BeanCreationFailure,
// per the "never exceeds 100 entries" testable property.
const maxSuppressedCauses = 100

// ErrorKind classifies a ContainerError without relying on string matching.
type ErrorKind int

const (
	// KindNoSuchBean is raised when a lookup by name or required type finds zero candidates.
	KindNoSuchBean ErrorKind = iota
	// KindNoUniqueBean is raised when a required-single lookup finds multiple candidates without
	// a primary/qualifier/name tie-breaker.
	KindNoUniqueBean
	// KindCurrentlyInCreation is raised when a cycle can't be resolved by early exposure, or a
	// circular-reference wrapping conflict is detected.
	KindCurrentlyInCreation
	// KindBeanCreationFailure wraps any error escaping user code during construction,
	// population, or initialization.
	KindBeanCreationFailure
	// KindUnsatisfiedDependency is raised when dependency checking is enabled and a writable,
	// non-excluded property (or a required injection point) was left unset.
	KindUnsatisfiedDependency
	// KindBeanDefinitionStore is raised for an invalid definition: unresolvable parent, missing
	// method, unknown type.
	KindBeanDefinitionStore
	// KindBeanNotAllowedForCreation is raised when a lookup arrives during destruction.
	KindBeanNotAllowedForCreation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoSuchBean:
		return "no-such-bean"
	case KindNoUniqueBean:
		return "no-unique-bean"
	case KindCurrentlyInCreation:
		return "currently-in-creation"
	case KindBeanCreationFailure:
		return "bean-creation-failure"
	case KindUnsatisfiedDependency:
		return "unsatisfied-dependency"
	case KindBeanDefinitionStore:
		return "bean-definition-store"
	case KindBeanNotAllowedForCreation:
		return "bean-not-allowed-for-creation"
	default:
		return "unknown"
	}
}

// ContainerError is the single exported error type for all taxonomy kinds in SPEC_FULL.md §7. It
// wraps an underlying cause via github.com/pkg/errors so errors.Cause and errors.As both work,
// and carries a bounded list of suppressed related causes (peer failures observed during the same
// singleton-creation attempt).
type ContainerError struct {
	Kind       ErrorKind
	BeanName   string
	Resource   string
	cause      error
	Suppressed []error
}

func (e *ContainerError) Error() string {
	msg := e.Kind.String()
	if e.BeanName != "" {
		msg = fmt.Sprintf("%s: bean '%s'", msg, e.BeanName)
	}
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	if len(e.Suppressed) > 0 {
		msg = fmt.Sprintf("%s [%d suppressed cause(s)]", msg, len(e.Suppressed))
	}
	return msg
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *ContainerError) Unwrap() error {
	return e.cause
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *ContainerError) Cause() error {
	return e.cause
}

// AddSuppressed appends a peer failure observed during the same singleton-creation attempt,
// capped at maxSuppressedCauses entries (oldest kept, newest dropped once full, matching the
// teacher's append-until-full semantics elsewhere in this package).
func (e *ContainerError) AddSuppressed(cause error) {
	if cause == nil || len(e.Suppressed) >= maxSuppressedCauses {
		return
	}
	e.Suppressed = append(e.Suppressed, cause)
}

func newContainerError(kind ErrorKind, beanName string, cause error) *ContainerError {
	return &ContainerError{
		Kind:     kind,
		BeanName: beanName,
		cause:    cause,
	}
}

func noSuchBeanErr(name string) *ContainerError {
	return newContainerError(KindNoSuchBean, name, pkgerrors.Errorf("no bean named '%s' is defined", name))
}

func noSuchBeanOfTypeErr(typeName string) *ContainerError {
	return &ContainerError{
		Kind:     KindNoSuchBean,
		Resource: typeName,
		cause:    pkgerrors.Errorf("no qualifying bean of type '%s' is defined", typeName),
	}
}

func noUniqueBeanErr(typeName string, candidates []string) *ContainerError {
	return &ContainerError{
		Kind:     KindNoUniqueBean,
		Resource: typeName,
		cause:    pkgerrors.Errorf("no qualifying bean of type '%s' available: expected single matching bean but found %d: %v", typeName, len(candidates), candidates),
	}
}

func currentlyInCreationErr(name string, cause error) *ContainerError {
	return newContainerError(KindCurrentlyInCreation, name, cause)
}

func beanCreationFailureErr(name, resource string, cause error) *ContainerError {
	return &ContainerError{
		Kind:     KindBeanCreationFailure,
		BeanName: name,
		Resource: resource,
		cause:    pkgerrors.WithMessage(cause, "error creating bean with name '"+name+"'"),
	}
}

func unsatisfiedDependencyErr(name, propertyOrParam string, cause error) *ContainerError {
	return newContainerError(KindUnsatisfiedDependency, name, pkgerrors.WithMessagef(cause, "unsatisfied dependency for property/param '%s'", propertyOrParam))
}

func beanDefinitionStoreErr(name string, cause error) *ContainerError {
	return newContainerError(KindBeanDefinitionStore, name, cause)
}

func beanNotAllowedErr(name string) *ContainerError {
	return newContainerError(KindBeanNotAllowedForCreation, name, pkgerrors.Errorf("bean '%s' is not allowed for creation: the container is currently being destroyed", name))
}
