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

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type countingFactory struct {
	calls int
	value string
}

func (f *countingFactory) ProduceBean() (interface{}, error) {
	f.calls++
	return f.value, nil
}
func (f *countingFactory) ProductType() reflect.Type { return reflect.TypeOf("") }
func (f *countingFactory) IsSingleton() bool         { return true }

type prototypeFactory struct {
	calls int
}

func (f *prototypeFactory) ProduceBean() (interface{}, error) {
	f.calls++
	return f.calls, nil
}
func (f *prototypeFactory) ProductType() reflect.Type { return reflect.TypeOf(0) }
func (f *prototypeFactory) IsSingleton() bool         { return false }

type FactoryBeanRegistryTestSuite struct {
	suite.Suite
	registry *factoryBeanRegistry
}

func TestFactoryBeanRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(FactoryBeanRegistryTestSuite))
}

func (suite *FactoryBeanRegistryTestSuite) SetupTest() {
	suite.registry = newFactoryBeanRegistry(logrus.WithField("component", "di-test"))
}

func (suite *FactoryBeanRegistryTestSuite) TestGetProductCachesSingleton() {
	fb := &countingFactory{value: "hello"}
	postInitCalls := 0
	postInit := func(p interface{}) (interface{}, error) {
		postInitCalls++
		return p, nil
	}

	first, err := suite.registry.getProduct("greeting", fb, false, postInit)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello", first)

	second, err := suite.registry.getProduct("greeting", fb, false, postInit)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello", second)

	assert.Equal(suite.T(), 1, fb.calls)
	assert.Equal(suite.T(), 1, postInitCalls)

	cached, ok := suite.registry.cachedProduct("greeting")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), "hello", cached)
}

func (suite *FactoryBeanRegistryTestSuite) TestSyntheticFactorySkipsPostInit() {
	fb := &countingFactory{value: "raw"}
	postInitCalls := 0
	postInit := func(p interface{}) (interface{}, error) {
		postInitCalls++
		return p, nil
	}

	_, err := suite.registry.getProduct("raw", fb, true, postInit)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, postInitCalls)
}

func (suite *FactoryBeanRegistryTestSuite) TestNonSingletonProductNotCached() {
	fb := &prototypeFactory{}
	first, err := suite.registry.getProduct("counter", fb, false, nil)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, first)

	second, err := suite.registry.getProduct("counter", fb, false, nil)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, second)

	_, ok := suite.registry.cachedProduct("counter")
	assert.False(suite.T(), ok)
}

func (suite *FactoryBeanRegistryTestSuite) TestRecursiveReentryReturnsRawUncached() {
	fb := &countingFactory{value: "loop"}
	suite.registry.producing["looping"] = struct{}{}

	product, err := suite.registry.getProduct("looping", fb, false, func(p interface{}) (interface{}, error) {
		suite.T().Fatal("postInit must not run on recursive re-entry")
		return p, nil
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "loop", product)
	assert.Equal(suite.T(), 1, fb.calls)

	_, cached := suite.registry.cachedProduct("looping")
	assert.False(suite.T(), cached)
}

// --- container-level wiring --------------------------------------------------

type greetingFactory struct{}

func (f *greetingFactory) ProduceBean() (interface{}, error) { return "hello, world", nil }
func (f *greetingFactory) ProductType() reflect.Type         { return reflect.TypeOf("") }
func (f *greetingFactory) IsSingleton() bool                 { return true }

type FactoryBeanContainerTestSuite struct {
	suite.Suite
	container *Container
}

func TestFactoryBeanContainerTestSuite(t *testing.T) {
	suite.Run(t, new(FactoryBeanContainerTestSuite))
}

func (suite *FactoryBeanContainerTestSuite) SetupTest() {
	suite.container = New()
}

func (suite *FactoryBeanContainerTestSuite) TestGetBeanReturnsProductNotFactory() {
	err := suite.container.RegisterBeanDefinition("greeting", &BeanDefinition{
		BeanType: reflect.TypeOf(&greetingFactory{}),
	})
	assert.NoError(suite.T(), err)

	instance, err := suite.container.GetBean("greeting")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello, world", instance)
}

func (suite *FactoryBeanContainerTestSuite) TestGetBeanByTypeMatchesProductType() {
	err := suite.container.RegisterBeanDefinition("greeting", &BeanDefinition{
		BeanType: reflect.TypeOf(&greetingFactory{}),
	})
	assert.NoError(suite.T(), err)

	instance, err := suite.container.GetBeanByType(reflect.TypeOf(""))
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "hello, world", instance)
}
