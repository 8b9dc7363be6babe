package httpapi

import (
	"net/http"

	"iepp.org/internal/apierr"
	"iepp.org/internal/auth"
)

const authHeader = "Authorization"

// authenticate resolves the bearer token into a Caller stored on the context.
// Preflight requests pass through untouched.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.deps.Resolver == nil {
			writeAPIError(w, r, apierr.New(apierr.KindProviderUnavailable, "authentication is not configured"))
			return
		}
		caller, err := a.deps.Resolver.Resolve(r.Context(), r.Header.Get(authHeader))
		if err != nil {
			if apierr.KindOf(err).HTTPStatus() == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="iepp"`)
			}
			writeAPIError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), caller)))
	})
}

func callerFrom(r *http.Request) (auth.Caller, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return auth.Caller{}, apierr.New(apierr.KindUnauthenticated, "authentication required")
	}
	return caller, nil
}
