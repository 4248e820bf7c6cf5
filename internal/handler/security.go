package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/pkg/httpmiddleware"
)

// Verifier validates bearer tokens; *auth.Tokens implements it.
type Verifier interface {
	Verify(raw string) (auth.Actor, error)
}

// Authenticate requires "Authorization: Bearer <jwt>" and stores the actor
// in the request context.
func Authenticate(v Verifier) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pos"`)
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			actor, err := v.Verify(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pos", error="invalid_token"`)
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := auth.WithActor(r.Context(), actor)
			ctx = zctx.With(ctx,
				zap.String("employee_id", actor.EmployeeID),
				zap.String("role", string(actor.Role)),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// actor returns the authenticated actor. Authenticate guarantees it is set
// on every /api route.
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}
