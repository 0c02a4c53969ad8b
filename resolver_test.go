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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

type frenchGreeter struct{}

func (frenchGreeter) Greet() string { return "bonjour" }

type ResolverTestSuite struct {
	suite.Suite
	container *Container
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func (suite *ResolverTestSuite) SetupTest() {
	suite.container = New()
}

func (suite *ResolverTestSuite) registerGreeter(name string, t reflect.Type, primary bool, qualifier string) {
	err := suite.container.RegisterBeanDefinition(name, &BeanDefinition{BeanType: t, Primary: primary, Qualifier: qualifier})
	assert.NoError(suite.T(), err)
}

func (suite *ResolverTestSuite) TestResolveSingleCandidate() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "")
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem()})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello", instance.(greeter).Greet())
}

func (suite *ResolverTestSuite) TestResolveNoCandidateReturnsNoSuchBean() {
	_, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem()})
	assert.Error(suite.T(), err)
	cerr, ok := err.(*ContainerError)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), KindNoSuchBean, cerr.Kind)
}

func (suite *ResolverTestSuite) TestResolveNoCandidateOptionalReturnsZero() {
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem(), Optional: true})
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), instance)
}

func (suite *ResolverTestSuite) TestAmbiguousWithoutTieBreaker() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "")
	suite.registerGreeter("french", reflect.TypeOf(&frenchGreeter{}), false, "")
	_, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem()})
	assert.Error(suite.T(), err)
	cerr, ok := err.(*ContainerError)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), KindNoUniqueBean, cerr.Kind)
}

func (suite *ResolverTestSuite) TestPrimaryBreaksTie() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), true, "")
	suite.registerGreeter("french", reflect.TypeOf(&frenchGreeter{}), false, "")
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem()})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello", instance.(greeter).Greet())
}

func (suite *ResolverTestSuite) TestNameBreaksTie() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "")
	suite.registerGreeter("french", reflect.TypeOf(&frenchGreeter{}), false, "")
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem(), Name: "french"})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "bonjour", instance.(greeter).Greet())
}

func (suite *ResolverTestSuite) TestQualifierBreaksTie() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "formal")
	suite.registerGreeter("french", reflect.TypeOf(&frenchGreeter{}), false, "casual")
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem(), Qualifier: "casual"})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "bonjour", instance.(greeter).Greet())
}

func (suite *ResolverTestSuite) TestMultiMatchSlice() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "")
	suite.registerGreeter("french", reflect.TypeOf(&frenchGreeter{}), false, "")
	sliceType := reflect.SliceOf(reflect.TypeOf((*greeter)(nil)).Elem())
	instance, err := suite.container.resolve(InjectionPoint{Type: sliceType})
	assert.NoError(suite.T(), err)
	greeters := instance.([]greeter)
	assert.Len(suite.T(), greeters, 2)
}

type orderedGreeter struct {
	name  string
	order int
}

func (g *orderedGreeter) Greet() string { return g.name }
func (g *orderedGreeter) Order() int    { return g.order }

func (suite *ResolverTestSuite) TestMultiMatchOrderedByOrderer() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("second", &BeanDefinition{
		BeanType:         reflect.TypeOf(&orderedGreeter{}),
		InstanceSupplier: func() (interface{}, error) { return &orderedGreeter{name: "second", order: 2}, nil },
	}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("first", &BeanDefinition{
		BeanType:         reflect.TypeOf(&orderedGreeter{}),
		InstanceSupplier: func() (interface{}, error) { return &orderedGreeter{name: "first", order: 1}, nil },
	}))

	sliceType := reflect.SliceOf(reflect.TypeOf((*greeter)(nil)).Elem())
	instance, err := suite.container.resolve(InjectionPoint{Type: sliceType})
	assert.NoError(suite.T(), err)
	greeters := instance.([]greeter)
	assert.Len(suite.T(), greeters, 2)
	assert.Equal(suite.T(), "first", greeters[0].Greet())
	assert.Equal(suite.T(), "second", greeters[1].Greet())
}

func (suite *ResolverTestSuite) TestExcludedFromAutowiringIsSkipped() {
	suite.registerGreeter("english", reflect.TypeOf(&englishGreeter{}), false, "")
	err := suite.container.RegisterBeanDefinition("french", &BeanDefinition{
		BeanType:              reflect.TypeOf(&frenchGreeter{}),
		ExcludeFromAutowiring: true,
	})
	assert.NoError(suite.T(), err)
	instance, err := suite.container.resolve(InjectionPoint{Type: reflect.TypeOf((*greeter)(nil)).Elem()})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello", instance.(greeter).Greet())
}
