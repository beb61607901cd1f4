package middleware

import (
	"net/http"

	"github.com/codeway/config-service/internal/errors"
	"github.com/codeway/config-service/internal/httputil"
	"github.com/codeway/config-service/internal/logging"
)

// APITokenMiddleware authenticates mobile clients via the X-API-Token
// header.
type APITokenMiddleware struct {
	token  string
	logger *logging.Logger
}

// NewAPITokenMiddleware creates a middleware checking against the given
// shared token.
func NewAPITokenMiddleware(token string, logger *logging.Logger) *APITokenMiddleware {
	if logger == nil {
		logger = logging.NewDefault("apitoken")
	}
	return &APITokenMiddleware{token: token, logger: logger}
}

// Handler returns the middleware handler.
func (m *APITokenMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Token")
		if m.token == "" || token == "" || token != m.token {
			m.logger.LogSecurityEvent(r.Context(), "invalid_api_token", map[string]interface{}{
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			})
			svcErr := errors.Unauthorized("Invalid API token")
			httputil.WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
