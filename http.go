package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/middleware/tokenware"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// CredentialsPayload is the minimal shape a sign-in form or JSON body needs
// to satisfy.
type CredentialsPayload interface {
	GetIdentifier() string
	GetPassword() string
}

// RouteAuthenticator glues the token lifecycle to HTTP: it validates bearer
// tokens behind middleware and moves the pair in and out of cookies.
type RouteAuthenticator struct {
	auth             Authenticator
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther Authenticator, cfg Config) (*RouteAuthenticator, error) {
	a := &RouteAuthenticator{
		cfg:    cfg,
		auth:   auther,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

// refreshCookieName derives the refresh cookie from the access cookie name.
func (a RouteAuthenticator) refreshCookieName() string {
	return a.cfg.GetContextKey() + "_refresh"
}

// ProtectedRoute returns middleware that rejects requests without a valid
// access token. The token is looked up per the configured lookup chain
// (header, cookie, query).
func (a *RouteAuthenticator) ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return tokenware.New(tokenware.Config{
		ErrorHandler:   errorHandler,
		TokenValidator: sessionValidator{auth: a.auth},
		AuthScheme:     cfg.GetAuthScheme(),
		ContextKey:     cfg.GetContextKey(),
		TokenLookup:    cfg.GetTokenLookup(),
	})
}

// SignIn authenticates the payload and stores the resulting pair in cookies.
// A two-factor challenge is passed through for the controller to handle.
func (a *RouteAuthenticator) SignIn(ctx router.Context, payload CredentialsPayload) error {
	pair, err := a.auth.SignIn(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		if errors.Is(err, ErrTwoFactorRequired) {
			return err
		}
		a.Logger.Error("SignIn error: %s", err)
		return err
	}

	a.setPairCookies(ctx, pair)
	return nil
}

// CompleteTwoFactor finishes a two-factor sign-in and stores the pair.
func (a *RouteAuthenticator) CompleteTwoFactor(ctx router.Context, identifier, code string) error {
	pair, err := a.auth.CompleteTwoFactor(ctx.Context(), identifier, code)
	if err != nil {
		a.Logger.Error("CompleteTwoFactor error: %s", err)
		return err
	}

	a.setPairCookies(ctx, pair)
	return nil
}

// Refresh exchanges the refresh cookie for a fresh pair. On replay detection
// both cookies are cleared; the client must sign in again.
func (a *RouteAuthenticator) Refresh(ctx router.Context) error {
	refreshToken := ctx.Cookies(a.refreshCookieName())
	if refreshToken == "" {
		return ErrUnableToFindSession
	}

	pair, err := a.auth.Refresh(ctx.Context(), refreshToken)
	if err != nil {
		if IsReplayError(err) || errors.Is(err, ErrSessionRevoked) {
			a.SignOut(ctx)
		}
		return err
	}

	a.setPairCookies(ctx, pair)
	return nil
}

// SignOut clears both token cookies.
func (a *RouteAuthenticator) SignOut(ctx router.Context) {
	a.cookieDel(ctx, a.cfg.GetContextKey())
	a.cookieDel(ctx, a.refreshCookieName())
}

func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) setPairCookies(c router.Context, pair *TokenPair) {
	a.setCookieToken(c, a.cfg.GetContextKey(), pair.AccessToken, pair.AccessExpiresAt)
	a.setCookieToken(c, a.refreshCookieName(), pair.RefreshToken, pair.RefreshExpiresAt)
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, name, val string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    val,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect("/login", statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.JSON(richErr.Code, map[string]any{
			"error": richErr.Message,
		})
	}
}

// GetRouterSession retrieves the validated session the middleware stored in
// the request context.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	val := c.Locals(key)
	if val == nil {
		return nil, ErrUnableToFindSession
	}

	session, ok := val.(*SessionObject)
	if !ok {
		return nil, ErrUnableToDecodeSession
	}

	return session, nil
}

// sessionValidator adapts the Authenticator to the middleware's validator
// interface.
type sessionValidator struct {
	auth Authenticator
}

func (v sessionValidator) Validate(ctx context.Context, token string) (tokenware.AuthSession, error) {
	session, err := v.auth.SessionFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return session, nil
}
