package authz

import (
	"net/http"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
)

// Require returns middleware that validates every request against opts and
// stores the resulting ClaimsContext in the request context
func (v *Validator) Require(opts Options) func(http.Handler) http.Handler {
	return v.RequireFunc(func(*http.Request) Options { return opts })
}

// RequireFunc is Require with options derived from the request, for routes
// whose tenant comes from the path
func (v *Validator) RequireFunc(build func(*http.Request) Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cc, err := v.Validate(r.Context(), build(r))
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaimsContext(r.Context(), cc)))
		})
	}
}
