// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, result)
//
// Errors are written as {"code","message"}; WriteAppError derives the status
// from the apperrors code:
//
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//
// # Request Parsing
//
//	var req issueRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgId")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1 << 20),
//	)
package httputil
