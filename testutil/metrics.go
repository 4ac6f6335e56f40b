/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package testutil provides helpers for testing code that uses go-gatewaykit.
package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tHelper interface {
	Helper()
}

// AssertSamplesCountInHistogram asserts that the passed prometheus.Histogram
// contains the specified number of samples.
func AssertSamplesCountInHistogram(t assert.TestingT, hist prometheus.Histogram, wantSamplesCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(hist)) {
		return false
	}
	gotMetrics, err := reg.Gather()
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.Equal(t, 1, len(gotMetrics)) {
		return false
	}
	return assert.Equal(t, wantSamplesCount, int(gotMetrics[0].GetMetric()[0].Histogram.GetSampleCount()))
}

// RequireSamplesCountInHistogram calls AssertSamplesCountInHistogram and fails the test immediately on mismatch.
func RequireSamplesCountInHistogram(t require.TestingT, hist prometheus.Histogram, wantSamplesCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if AssertSamplesCountInHistogram(t, hist, wantSamplesCount) {
		return
	}
	t.FailNow()
}

// AssertCounterValue asserts that the passed prometheus.Counter has the wanted value.
func AssertCounterValue(t assert.TestingT, counter prometheus.Counter, wantValue int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(counter)) {
		return false
	}
	gotMetrics, err := reg.Gather()
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.Equal(t, 1, len(gotMetrics)) {
		return false
	}
	return assert.Equal(t, wantValue, int(gotMetrics[0].GetMetric()[0].GetCounter().GetValue()))
}

// RequireCounterValue calls AssertCounterValue and fails the test immediately on mismatch.
func RequireCounterValue(t require.TestingT, counter prometheus.Counter, wantValue int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if AssertCounterValue(t, counter, wantValue) {
		return
	}
	t.FailNow()
}

// AssertGaugeValue asserts that the passed prometheus.Gauge has the wanted value.
func AssertGaugeValue(t assert.TestingT, gauge prometheus.Gauge, wantValue int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(gauge)) {
		return false
	}
	gotMetrics, err := reg.Gather()
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.Equal(t, 1, len(gotMetrics)) {
		return false
	}
	return assert.Equal(t, wantValue, int(gotMetrics[0].GetMetric()[0].GetGauge().GetValue()))
}

// RequireGaugeValue calls AssertGaugeValue and fails the test immediately on mismatch.
func RequireGaugeValue(t require.TestingT, gauge prometheus.Gauge, wantValue int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if AssertGaugeValue(t, gauge, wantValue) {
		return
	}
	t.FailNow()
}
