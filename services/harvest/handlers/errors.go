// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP admin surface. Each handler is a
// constructor closing over its dependencies, mirroring the gin wiring in
// routes.SetupRoutes.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/services/harvest/datatypes"
)

// statusFor maps stable error codes to HTTP statuses.
func statusFor(code datatypes.Code) int {
	switch code {
	case datatypes.CodeSessionNotFound, datatypes.CodeNodeNotFound, datatypes.CodeCacheMiss:
		return http.StatusNotFound
	case datatypes.CodeMalformedArchive, datatypes.CodeEmptyArchive,
		datatypes.CodeHARQualityInsufficient, datatypes.CodeURLNotFoundInArchive,
		datatypes.CodeInvalidRequest:
		return http.StatusBadRequest
	case datatypes.CodeAnalysisIncomplete, datatypes.CodeCircularDependencies:
		return http.StatusConflict
	case datatypes.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	case datatypes.CodeNoProviderConfigured:
		return http.StatusServiceUnavailable
	case datatypes.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the error envelope. Anything that is not an
// AnalysisError is wrapped as internal.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var analysisErr *datatypes.AnalysisError
	if !errors.As(err, &analysisErr) {
		analysisErr = datatypes.WrapError(datatypes.CodeInternal, "unexpected failure", err)
	}
	status := statusFor(analysisErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", string(analysisErr.Code), "error", err)
	} else {
		logger.Warn("request rejected", "code", string(analysisErr.Code), "error", err)
	}
	c.JSON(status, datatypes.ErrorResponse{Error: analysisErr})
}

// writeBindingError rejects a malformed request body.
func writeBindingError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
		Error: datatypes.WrapError(datatypes.CodeInvalidRequest, "request body does not validate", err),
	})
}
