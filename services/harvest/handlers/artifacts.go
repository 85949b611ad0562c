// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
)

// DAGArtifact serves {session-id}/dag.json.
func DAGArtifact(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, sess.Graph.Snapshot())
	}
}

// LogArtifact serves {session-id}/log.txt.
func LogArtifact(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sess.FormatLog()))
	}
}

// StatusArtifact serves {session-id}/status.json.
func StatusArtifact(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, session.Analyze(sess))
	}
}

// GeneratedCode serves {session-id}/generated_code; 404 until emitted.
func GeneratedCode(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		if sess.GeneratedScript == "" {
			writeError(c, logger, datatypes.NewError(datatypes.CodeCacheMiss,
				"no script has been generated for this session").WithSession(sess.ID))
			return
		}
		c.Data(http.StatusOK, "application/typescript; charset=utf-8", []byte(sess.GeneratedScript))
	}
}

// CompletedManifest serves completed/{session-id}/artifacts.json from the
// cache.
func CompletedManifest(store *cache.Cache, metrics *telemetry.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := store.GetCachedMetadata(c.Param("id"))
		if err != nil {
			countLookup(metrics, false)
			writeError(c, logger, err)
			return
		}
		countLookup(metrics, true)
		c.JSON(http.StatusOK, meta)
	}
}

// CompletedArtifact serves one cached artifact's raw bytes.
func CompletedArtifact(store *cache.Cache, metrics *telemetry.Metrics, logger *slog.Logger,
	kind cache.ArtifactKind, contentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := store.GetCachedArtifact(c.Param("id"), kind)
		if err != nil {
			countLookup(metrics, false)
			writeError(c, logger, err)
			return
		}
		countLookup(metrics, true)
		c.Data(http.StatusOK, contentType, data)
	}
}

// ArtifactsList serves artifacts/list.json: every completed session with
// quick-access URIs.
func ArtifactsList(store *cache.Cache, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.AllCachedSessions()
		if err != nil {
			writeError(c, logger, err)
			return
		}
		type entry struct {
			Meta *cache.Metadata   `json:"metadata"`
			URIs map[string]string `json:"uris"`
		}
		out := make([]entry, 0, len(sessions))
		for _, meta := range sessions {
			id := meta.SessionID
			out = append(out, entry{
				Meta: meta,
				URIs: map[string]string{
					"manifest": fmt.Sprintf("/v1/completed/%s/artifacts.json", id),
					"har":      fmt.Sprintf("/v1/completed/%s/har/original.har", id),
					"cookies":  fmt.Sprintf("/v1/completed/%s/cookies/original.json", id),
					"script":   fmt.Sprintf("/v1/completed/%s/generated.ts", id),
				},
			})
		}
		c.JSON(http.StatusOK, gin.H{"completed": out})
	}
}

func countLookup(metrics *telemetry.Metrics, hit bool) {
	if metrics == nil {
		return
	}
	if hit {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
}
