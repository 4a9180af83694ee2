// Package middleware holds the HTTP middleware in front of the tenant API.
//
// AuthMiddleware verifies the bearer identity token on each request and puts
// the resulting auth.Identity on the request context. Authorization decisions
// are made later by the claims validator, not here.
//
//	router.Use(middleware.NewAuthMiddleware(verifier, false).Handler)
//
// RateLimitMiddleware throttles authenticated callers by uid and anonymous
// callers (the billing webhook) by client IP. Use RateLimiter inside a single
// process and DistributedRateLimiter when several instances share Redis.
//
//	limits := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(rdb, middleware.PerUserRateLimitConfig(), ""),
//		middleware.NewDistributedRateLimiter(rdb, middleware.DefaultRateLimitConfig(), ""),
//	)
//	router.Use(limits.Handler)
//
// Limiter failures let the request through.
package middleware
