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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type requestScopedBean struct {
	closed *bool
}

func (rb *requestScopedBean) Close() error {
	*rb.closed = true
	return nil
}

type MiddlewareTestSuite struct {
	suite.Suite
	container *Container
}

func TestMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}

func (suite *MiddlewareTestSuite) SetupTest() {
	suite.container = New()
}

func (suite *MiddlewareTestSuite) TestMiddlewareInjectsRequestScopedBean() {
	closed := false
	err := suite.container.RegisterBeanDefinition("requestScopedBean", &BeanDefinition{
		Scope:            RequestScope,
		InstanceSupplier: func() (interface{}, error) { return &requestScopedBean{closed: &closed}, nil },
	})
	assert.NoError(suite.T(), err)

	handler := suite.container.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instance, ok := r.Context().Value(BeanKey("requestScopedBean")).(*requestScopedBean)
		assert.True(suite.T(), ok)
		assert.NotNil(suite.T(), instance)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	_, err = http.Get(server.URL)
	assert.NoError(suite.T(), err)
}

func (suite *MiddlewareTestSuite) TestRequestScopedBeanRejectsDirectLookup() {
	err := suite.container.RegisterBeanDefinition("requestScopedBean", &BeanDefinition{
		Scope:            RequestScope,
		InstanceSupplier: func() (interface{}, error) { return &requestScopedBean{}, nil },
	})
	assert.NoError(suite.T(), err)

	_, err = suite.container.GetBean("requestScopedBean")
	assert.Equal(suite.T(), errRequestScopedDirect, err)
}

func (suite *MiddlewareTestSuite) TestRequestScopeCannotBeReRegistered() {
	err := suite.container.RegisterScope(RequestScope, requestScopeHandler{})
	assert.Error(suite.T(), err)
}
