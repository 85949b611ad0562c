// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := NewMetrics()
	m.SessionsCreated.Inc()
	m.SessionsRejected.WithLabelValues("capacity-exceeded").Inc()
	m.ResolverIterations.WithLabelValues("resolved").Add(3)
	m.CacheMisses.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRejected.WithLabelValues("capacity-exceeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ResolverIterations.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestMiddlewareLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Both requests fold into one route label.
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/:id", "200"))
	assert.Equal(t, 2.0, got)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.SessionsCreated.Inc()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "harvest_sessions_created_total 1")
}
