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

type DefinitionRegistryTestSuite struct {
	suite.Suite
	registry *definitionRegistry
}

func TestDefinitionRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(DefinitionRegistryTestSuite))
}

func (suite *DefinitionRegistryTestSuite) SetupTest() {
	suite.registry = newDefinitionRegistry(logrus.WithField("component", "di-test"))
}

func (suite *DefinitionRegistryTestSuite) TestRegisterAndRetrieve() {
	err := suite.registry.registerBeanDefinition("a", &BeanDefinition{BeanType: reflect.TypeOf(&struct{}{})})
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), suite.registry.containsBeanDefinition("a"))
	def, ok := suite.registry.rawDefinition("a")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), Singleton, def.Scope)
}

func (suite *DefinitionRegistryTestSuite) TestOverrideDisallowed() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("a", &BeanDefinition{}))
	suite.registry.setAllowOverriding(false)
	err := suite.registry.registerBeanDefinition("a", &BeanDefinition{})
	assert.Error(suite.T(), err)
}

func (suite *DefinitionRegistryTestSuite) TestOverrideAllowedByDefault() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("a", &BeanDefinition{}))
	err := suite.registry.registerBeanDefinition("a", &BeanDefinition{Primary: true})
	assert.NoError(suite.T(), err)
	def, _ := suite.registry.rawDefinition("a")
	assert.True(suite.T(), def.Primary)
}

func (suite *DefinitionRegistryTestSuite) TestMergeOverlaysChildOverParent() {
	parent := &BeanDefinition{Scope: Singleton, InitMethodName: "Init"}
	child := &BeanDefinition{ParentName: "parent", Primary: true}
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("parent", parent))
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("child", child))

	merged, err := suite.registry.getMergedBeanDefinition("child")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), Singleton, merged.Scope)
	assert.Equal(suite.T(), "Init", merged.InitMethodName)
	assert.True(suite.T(), merged.Primary)
	assert.Equal(suite.T(), []string{"parent", "child"}, merged.SourceChain)
}

func (suite *DefinitionRegistryTestSuite) TestMergeDetectsParentCycle() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("a", &BeanDefinition{ParentName: "b"}))
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("b", &BeanDefinition{ParentName: "a"}))
	_, err := suite.registry.getMergedBeanDefinition("a")
	assert.Error(suite.T(), err)
}

func (suite *DefinitionRegistryTestSuite) TestMergeCacheInvalidatedOnParentChange() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("parent", &BeanDefinition{InitMethodName: "First"}))
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("child", &BeanDefinition{ParentName: "parent"}))
	first, err := suite.registry.getMergedBeanDefinition("child")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "First", first.InitMethodName)

	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("parent", &BeanDefinition{InitMethodName: "Second"}))
	second, err := suite.registry.getMergedBeanDefinition("child")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Second", second.InitMethodName)
}

func (suite *DefinitionRegistryTestSuite) TestFreezeConfigurationSnapshotsNames() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("a", &BeanDefinition{}))
	suite.registry.freezeConfiguration()
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("b", &BeanDefinition{}))
	assert.Equal(suite.T(), []string{"a"}, suite.registry.beanDefinitionNames())
}

func (suite *DefinitionRegistryTestSuite) TestRemoveBeanDefinition() {
	assert.NoError(suite.T(), suite.registry.registerBeanDefinition("a", &BeanDefinition{}))
	assert.NoError(suite.T(), suite.registry.removeBeanDefinition("a"))
	assert.False(suite.T(), suite.registry.containsBeanDefinition("a"))
	err := suite.registry.removeBeanDefinition("a")
	assert.Error(suite.T(), err)
}
