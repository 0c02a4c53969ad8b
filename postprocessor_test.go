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
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type recordingProcessor struct {
	id    string
	order int
	log   *[]string
}

func (p *recordingProcessor) Order() int { return p.order }

func (p *recordingProcessor) BeforeInitialization(bean interface{}, beanName string) (interface{}, error) {
	*p.log = append(*p.log, p.id)
	return bean, nil
}

func (p *recordingProcessor) AfterInitialization(bean interface{}, beanName string) (interface{}, error) {
	return bean, nil
}

type priorityProcessor struct {
	priorityOrderedBase
	recordingProcessor
}

type PostProcessorTestSuite struct {
	suite.Suite
	pipeline *postProcessorPipeline
}

func TestPostProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(PostProcessorTestSuite))
}

func (suite *PostProcessorTestSuite) SetupTest() {
	suite.pipeline = newPostProcessorPipeline(logrus.WithField("component", "di-test"))
}

func (suite *PostProcessorTestSuite) TestOrderingWithinTier() {
	var log []string
	suite.pipeline.add(&recordingProcessor{id: "second", order: 2, log: &log})
	suite.pipeline.add(&recordingProcessor{id: "first", order: 1, log: &log})

	_, err := suite.pipeline.beforeInitialization("bean", "b")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"first", "second"}, log)
}

func (suite *PostProcessorTestSuite) TestPriorityOrderedRunsBeforeOrdered() {
	var log []string
	suite.pipeline.add(&recordingProcessor{id: "ordered", order: 0, log: &log})
	suite.pipeline.add(&priorityProcessor{recordingProcessor: recordingProcessor{id: "priority", order: 0, log: &log}})

	_, err := suite.pipeline.beforeInitialization("bean", "b")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"priority", "ordered"}, log)
}

func (suite *PostProcessorTestSuite) TestRegistrationOrderIsTieBreaker() {
	var log []string
	suite.pipeline.add(&recordingProcessor{id: "a", log: &log})
	suite.pipeline.add(&recordingProcessor{id: "b", log: &log})

	_, err := suite.pipeline.beforeInitialization("bean", "b")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"a", "b"}, log)
}

func (suite *PostProcessorTestSuite) TestCount() {
	suite.pipeline.add(&recordingProcessor{id: "a", log: &[]string{}})
	suite.pipeline.add(&recordingProcessor{id: "b", log: &[]string{}})
	assert.Equal(suite.T(), 2, suite.pipeline.count())
}
