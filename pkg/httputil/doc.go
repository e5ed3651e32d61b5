// Package httputil provides HTTP helpers for JSON responses, request parsing
// and the common middleware chain.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, permission)
//	httputil.WriteNoContent(w)
//	httputil.WriteValidationError(w, "name is required")
//
// Every error body carries a stable code next to the message:
//
//	{"error":"role not found","code":"not_found"}
//
// # Request Parsing
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	if !ok {
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
