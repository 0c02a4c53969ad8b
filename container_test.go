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

// --- fixtures -------------------------------------------------------------

type repository struct {
	Connected bool
}

func (r *repository) PostConstruct() error {
	r.Connected = true
	return nil
}

type service struct {
	Repository *repository `di.inject:"repository"`
}

type controller struct {
	Service *service `di.inject:"service"`
}

// two-bean cycle resolved via field injection
type beanM struct {
	N *beanN `di.inject:"n"`
}
type beanN struct {
	M *beanM `di.inject:"m"`
}

// two-bean cycle via constructor injection: unresolvable
type ctorX struct{ Y *ctorY }
type ctorY struct{ X *ctorX }

func newCtorX(y *ctorY) *ctorX { return &ctorX{Y: y} }
func newCtorY(x *ctorX) *ctorY { return &ctorY{X: x} }

type primaryPlugin struct{ Name string }
type secondaryPlugin struct{ Name string }

type pluginIface interface{ PluginName() string }

func (p *primaryPlugin) PluginName() string   { return "primary" }
func (p *secondaryPlugin) PluginName() string { return "secondary" }

type ordered1 struct{ initOrder *[]string }
type ordered2 struct {
	initOrder *[]string
	First     *ordered1 `di.inject:"first"`
}

func (o *ordered1) PostConstruct() error {
	*o.initOrder = append(*o.initOrder, "first")
	return nil
}
func (o *ordered2) PostConstruct() error {
	*o.initOrder = append(*o.initOrder, "second")
	return nil
}

type lookupTarget struct{}

func (l *lookupTarget) CreateWidget() string { return "real" }

// wraps the early reference handed to dependents during a field-injection cycle
type wrapper struct{ inner interface{} }

type wrappingProcessor struct{}

func (wrappingProcessor) DetermineCandidateConstructors(reflect.Type, string) ([]reflect.Value, error) {
	return nil, nil
}
func (wrappingProcessor) GetEarlyReference(instance interface{}, beanName string) (interface{}, error) {
	return &wrapper{inner: instance}, nil
}
func (wrappingProcessor) PredictType(string, *MergedBeanDefinition) reflect.Type { return nil }

// field-injection cycle whose fields can hold the wrapper handed out as the early reference
type wrappableM struct {
	N interface{} `di.inject:"n"`
}
type wrappableN struct {
	M interface{} `di.inject:"m"`
}

// wraps bean "m" only after initialization, after its raw early reference was handed out
type lateWrappingProcessor struct{}

func (lateWrappingProcessor) BeforeInitialization(bean interface{}, beanName string) (interface{}, error) {
	return bean, nil
}
func (lateWrappingProcessor) AfterInitialization(bean interface{}, beanName string) (interface{}, error) {
	if beanName == "m" {
		return &wrapper{inner: bean}, nil
	}
	return bean, nil
}

// --- suite -----------------------------------------------------------------

type ContainerTestSuite struct {
	suite.Suite
	container *Container
}

func TestContainerTestSuite(t *testing.T) {
	suite.Run(t, new(ContainerTestSuite))
}

func (suite *ContainerTestSuite) SetupTest() {
	suite.container = New()
}

func (suite *ContainerTestSuite) TestSimpleSingletonChain() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("repository", &BeanDefinition{BeanType: reflect.TypeOf(&repository{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("service", &BeanDefinition{BeanType: reflect.TypeOf(&service{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("controller", &BeanDefinition{BeanType: reflect.TypeOf(&controller{})}))

	assert.NoError(suite.T(), suite.container.Refresh())

	instance, err := suite.container.GetBean("controller")
	assert.NoError(suite.T(), err)
	c := instance.(*controller)
	assert.NotNil(suite.T(), c.Service)
	assert.NotNil(suite.T(), c.Service.Repository)
	assert.True(suite.T(), c.Service.Repository.Connected)

	again, err := suite.container.GetBean("controller")
	assert.NoError(suite.T(), err)
	assert.Same(suite.T(), instance, again)
}

func (suite *ContainerTestSuite) TestCircularFieldInjectionResolvesViaEarlyExposure() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("m", &BeanDefinition{BeanType: reflect.TypeOf(&beanM{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("n", &BeanDefinition{BeanType: reflect.TypeOf(&beanN{})}))

	instance, err := suite.container.GetBean("m")
	assert.NoError(suite.T(), err)
	m := instance.(*beanM)
	assert.NotNil(suite.T(), m.N)
	assert.NotNil(suite.T(), m.N.M)
	assert.Same(suite.T(), m, m.N.M)
}

func (suite *ContainerTestSuite) TestDestroySingletonsTerminatesOnMutualDependencyEdges() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("m", &BeanDefinition{BeanType: reflect.TypeOf(&beanM{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("n", &BeanDefinition{BeanType: reflect.TypeOf(&beanN{})}))

	_, err := suite.container.GetBean("m")
	assert.NoError(suite.T(), err)

	// Must return rather than recurse forever: m and n each registered a dependency edge on the
	// other during field-injection reconciliation.
	suite.container.DestroySingletons()
}

func (suite *ContainerTestSuite) TestCircularConstructorInjectionFailsWithCurrentlyInCreation() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("x", &BeanDefinition{
		BeanType:        reflect.TypeOf(&ctorX{}),
		ConstructorFunc: newCtorX,
	}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("y", &BeanDefinition{
		BeanType:        reflect.TypeOf(&ctorY{}),
		ConstructorFunc: newCtorY,
	}))

	_, err := suite.container.GetBean("x")
	assert.Error(suite.T(), err)
	cerr, ok := err.(*ContainerError)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), KindCurrentlyInCreation, cerr.Kind)
}

func (suite *ContainerTestSuite) TestPrimaryBreaksPrototypeTie() {
	pluginType := reflect.TypeOf((*pluginIface)(nil)).Elem()
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("primary", &BeanDefinition{
		BeanType: reflect.TypeOf(&primaryPlugin{}), Scope: Prototype, Primary: true,
	}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("secondary", &BeanDefinition{
		BeanType: reflect.TypeOf(&secondaryPlugin{}), Scope: Prototype,
	}))

	instance, err := suite.container.GetBeanByType(pluginType)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "primary", instance.(pluginIface).PluginName())

	again, err := suite.container.GetBeanByType(pluginType)
	assert.NoError(suite.T(), err)
	assert.NotSame(suite.T(), instance, again)
}

func (suite *ContainerTestSuite) TestDependsOnOrdersPreInstantiation() {
	var order []string
	first := &ordered1{initOrder: &order}
	second := &ordered2{initOrder: &order}

	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("first", &BeanDefinition{
		InstanceSupplier: func() (interface{}, error) { return first, nil },
	}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("second", &BeanDefinition{
		InstanceSupplier: func() (interface{}, error) { return second, nil },
		DependsOn:        []string{"first"},
	}))

	assert.NoError(suite.T(), suite.container.Refresh())
	assert.Equal(suite.T(), []string{"first", "second"}, order)
}

func (suite *ContainerTestSuite) TestEarlyReferenceWrappingReconciledWhenRawInjectionAllowed() {
	suite.container.AddBeanPostProcessor(wrappingProcessor{})
	suite.container.SetAllowRawInjectionDespiteWrapping(true)
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("m", &BeanDefinition{BeanType: reflect.TypeOf(&wrappableM{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("n", &BeanDefinition{BeanType: reflect.TypeOf(&wrappableN{})}))

	instance, err := suite.container.GetBean("m")
	assert.NoError(suite.T(), err)
	_, wrapped := instance.(*wrapper)
	assert.True(suite.T(), wrapped)
}

func (suite *ContainerTestSuite) TestGetBeanAfterDestroySingletonsFailsWithAlreadyDestroyed() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("repository", &BeanDefinition{BeanType: reflect.TypeOf(&repository{})}))
	assert.NoError(suite.T(), suite.container.Refresh())

	suite.container.DestroySingletons()

	_, err := suite.container.GetBean("repository")
	assert.Equal(suite.T(), errAlreadyDestroyed, err)
}

func (suite *ContainerTestSuite) TestGetBeanWhileInDestructionFailsWithInDestruction() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("repository", &BeanDefinition{BeanType: reflect.TypeOf(&repository{})}))
	assert.NoError(suite.T(), suite.container.Refresh())

	suite.container.singletons.mu.Lock()
	suite.container.singletons.inDestruction = true
	suite.container.singletons.mu.Unlock()

	_, err := suite.container.GetBean("repository")
	assert.Equal(suite.T(), errInDestruction, err)
}

func (suite *ContainerTestSuite) TestMethodOverrideVerifiesMethodExists() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("target", &BeanDefinition{
		BeanType:        reflect.TypeOf(&lookupTarget{}),
		MethodOverrides: []MethodOverride{{MethodName: "CreateWidget", BeanName: "widget"}},
	}))

	instance, err := suite.container.GetBean("target")
	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), instance)
}

func (suite *ContainerTestSuite) TestMethodOverrideFailsWhenMethodMissing() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("target", &BeanDefinition{
		BeanType:        reflect.TypeOf(&lookupTarget{}),
		MethodOverrides: []MethodOverride{{MethodName: "NoSuchMethod", BeanName: "widget"}},
	}))

	_, err := suite.container.GetBean("target")
	assert.Error(suite.T(), err)
	cerr, ok := err.(*ContainerError)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), KindBeanDefinitionStore, cerr.Kind)
}

func (suite *ContainerTestSuite) TestRegisterAliasRejectsCollisionWithExistingDefinitionWhenOverridingDisabled() {
	suite.container.AllowBeanDefinitionOverriding(false)
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("repository", &BeanDefinition{BeanType: reflect.TypeOf(&repository{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("service", &BeanDefinition{BeanType: reflect.TypeOf(&service{})}))

	err := suite.container.RegisterAlias("service", "repository")
	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), "repository", suite.container.aliases.canonicalName("repository"))
}

func (suite *ContainerTestSuite) TestRegisterAliasAllowsCollisionWhenOverridingEnabled() {
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("repository", &BeanDefinition{BeanType: reflect.TypeOf(&repository{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("service", &BeanDefinition{BeanType: reflect.TypeOf(&service{})}))

	err := suite.container.RegisterAlias("service", "repository")
	assert.NoError(suite.T(), err)
}

func (suite *ContainerTestSuite) TestEarlyReferenceWrappingRejectedWhenRawInjectionDisallowed() {
	suite.container.AddBeanPostProcessor(lateWrappingProcessor{})
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("m", &BeanDefinition{BeanType: reflect.TypeOf(&beanM{})}))
	assert.NoError(suite.T(), suite.container.RegisterBeanDefinition("n", &BeanDefinition{BeanType: reflect.TypeOf(&beanN{})}))

	_, err := suite.container.GetBean("m")
	assert.Error(suite.T(), err)
	cerr, ok := err.(*ContainerError)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), KindCurrentlyInCreation, cerr.Kind)
}
