// Package httpapi is the HTTP boundary: routing, middleware, request
// decoding and validation, and the mapping of domain errors to responses.
// All business rules live in the services layer.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/avdeyev/authcore/internal/logging"
	"github.com/avdeyev/authcore/internal/server/config"
	"github.com/avdeyev/authcore/internal/server/services"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Deps holds the services the router exposes.
type Deps struct {
	Accounts *services.AccountService
	Sessions *services.SessionService
	TOTP     *services.TOTPService
	Logger   logging.Logger
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Applied to the endpoints where unlimited attempts would let a client
	// brute-force passwords or short codes.
	sensitiveRL := NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	cookieSecure := strings.HasPrefix(cfg.BaseURL, "https://")
	accountH := NewAccountHandler(deps.Accounts, cfg.SessionCookieName, cookieSecure, deps.Logger)
	sessionH := NewSessionHandler(deps.Sessions, cfg.SessionCookieName, cookieSecure, deps.Logger)
	totpH := NewTOTPHandler(deps.TOTP, deps.Logger)

	authMw := auth(deps.Sessions, cfg.SessionCookieName, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		// Public routes.
		r.With(sensitiveRL.Limit).Post("/sign-up/request", accountH.RequestSignUp)
		r.With(sensitiveRL.Limit).Post("/sign-up", accountH.SignUp)
		r.With(sensitiveRL.Limit).Post("/sign-in", accountH.SignIn)
		r.With(sensitiveRL.Limit).Post("/password-reset/request", accountH.RequestPasswordReset)
		r.Get("/password-reset/check", accountH.CheckPasswordReset)
		r.With(sensitiveRL.Limit).Post("/password-reset/fulfill", accountH.FulfillPasswordReset)
		// Public because the token alone proves the request; the user may not
		// be signed in on the device where they open the link.
		r.Post("/email-change/verify", accountH.VerifyEmailChange)

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/me", sessionH.Me)
			r.Post("/sign-out", sessionH.SignOut)
			r.Get("/sessions", sessionH.List)
			r.Post("/sessions/revoke-others", sessionH.RevokeOthers)
			r.Post("/sessions/revoke-all", sessionH.RevokeAll)

			r.Post("/password", accountH.ChangePassword)
			r.Post("/name", accountH.ChangeName)
			r.Post("/email-change/request", accountH.RequestEmailChange)
			r.With(sensitiveRL.Limit).Post("/credentials/verify", accountH.VerifyCredentials)

			r.Post("/totp/enroll", totpH.Enroll)
			r.With(sensitiveRL.Limit).Post("/totp/confirm", totpH.Confirm)
			r.Post("/totp/disable", totpH.Disable)
		})
	})

	return r
}
