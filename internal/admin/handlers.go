package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/auth"
	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/observability"
)

// fallback serves the degraded envelope of a service. Unknown services get
// the generic SERVICE_UNAVAILABLE response.
func (s *Server) fallback(c *gin.Context) {
	service := c.Param("service")
	if service == "" {
		service = circuitbreaker.DefaultFallbackService
	}
	fb := circuitbreaker.FallbackFor(service)

	s.logger.Warn("fallback served",
		observability.String("service", service),
		observability.String("code", fb.Code),
		observability.String("correlation_id", correlationID(c)),
	)
	fb.Write(c.Writer, correlationID(c))
}

// revoke blacklists the caller's bearer token until it would have expired.
func (s *Server) revoke(c *gin.Context) {
	cid := correlationID(c)

	token, err := auth.ExtractBearer(c.Request)
	if err != nil {
		e := auth.MissingCredentials()
		apierror.WriteError(c.Writer, e.Status, e.Code, e.Message, cid)
		return
	}

	if err := s.revoker.Revoke(c.Request.Context(), token); err != nil {
		s.logger.Error("token revocation failed",
			observability.String("correlation_id", cid),
			observability.Error(err),
		)
		apierror.WriteError(c.Writer, http.StatusServiceUnavailable, apierror.CodeServiceUnavailable,
			"Token revocation is temporarily unavailable. Please try again shortly.", cid)
		return
	}

	apierror.WriteJSON(c.Writer, http.StatusOK, apierror.Success(gin.H{"revoked": true}, cid))
}
