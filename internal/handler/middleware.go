package handler

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

// HeaderAPIKey carries a seller integration key.
const HeaderAPIKey = "api_key"

// authenticate resolves the caller from a bearer token or, for seller
// integrations, the api_key header.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.principal(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx,
			zap.String("principal_id", p.ID),
			zap.String("principal_role", string(p.Role)),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) principal(r *http.Request) (*auth.Principal, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return nil, auth.ErrUnauthenticated
		}
		return a.tokens.Parse(strings.TrimSpace(token))
	}
	if key := r.Header.Get(HeaderAPIKey); key != "" && a.apiKeys != nil {
		return a.apiKeys.Authenticate(r.Context(), key)
	}
	return nil, auth.ErrUnauthenticated
}

// tokenFromQuery lets browser WebSocket clients, which cannot set headers,
// pass the bearer token as ?token=.
func tokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := r.URL.Query().Get("token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok {
				handleError(w, r, auth.ErrUnauthenticated)
				return
			}
			if !slices.Contains(roles, p.Role) {
				handleError(w, r, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mustPrincipal returns the principal set by authenticate.
func mustPrincipal(r *http.Request) *auth.Principal {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		panic("handler: route is missing the authenticate middleware")
	}
	return p
}

func actorOf(p *auth.Principal) order.Actor {
	role := order.RoleBuyer
	if p.Role == auth.RoleSeller {
		role = order.RoleSeller
	}
	return order.Actor{ID: p.ID, Role: role}
}
