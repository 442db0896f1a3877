package handlers

import (
	"net/http"
	"slices"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/gorilla/websocket"

	"github.com/orderdesk/orderdesk/internal/auth"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/observability"
	"github.com/orderdesk/orderdesk/internal/services"
)

// RequireRoles authenticates the bearer token and admits only the listed
// roles. With no roles any signed-in user passes. Websocket upgrades may pass
// the token as ?token= because browsers cannot set headers on them.
func (h *Handlers) RequireRoles(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meter := observability.MeterFromContext(r.Context())

			token := bearerToken(r)
			if token == "" {
				meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "missing_token")))
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			principal, err := h.auth.Authenticate(token)
			if err != nil {
				meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "invalid_token")))
				h.loggerFromContext(r.Context()).Info("rejected bearer token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, principal.Role) {
				meter.Count("auth.rejected", 1, sentry.WithAttributes(attribute.String("reason", "role")))
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			meter.SetAttributes(
				attribute.String("user.id", principal.UserID.String()),
				attribute.String("user.role", string(principal.Role)),
			)
			ctx := auth.WithPrincipal(r.Context(), principal)
			ctx = logging.With(ctx, h.logger, "user_id", principal.UserID, "role", principal.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if websocket.IsWebSocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// principal returns the caller set by RequireRoles.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var input services.RegisterInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.auth.Register(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, result)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var input services.LoginInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.auth.Login(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context(), principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}

// CreateUser lets admins add staff accounts, including delivery users.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var input services.CreateUserInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	user, err := h.auth.CreateUser(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, user)
}
