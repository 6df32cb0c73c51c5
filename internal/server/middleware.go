package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/railzway-reports/internal/observability/context"
	"golang.org/x/crypto/bcrypt"
)

const (
	// HeaderSubject carries the authenticated user id. It is set by the
	// fronting auth proxy and must never be accepted from the open internet.
	HeaderSubject    = "X-Subject-ID"
	contextUserIDKey = "user_id"

	maxSubjectIDLen = 128
)

// SubjectRequired resolves the user the request acts for.
func (s *Server) SubjectRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := strings.TrimSpace(c.GetHeader(HeaderSubject))
		if subjectID == "" || len(subjectID) > maxSubjectIDLen {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithSubjectID(c.Request.Context(), subjectID)
		ctx = obscontext.WithActor(ctx, obscontext.ActorTypeUser, subjectID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, subjectID)
		c.Next()
	}
}

// CronSecretRequired checks a bearer secret against the configured bcrypt
// hash. An unset hash rejects every call.
func (s *Server) CronSecretRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := strings.TrimSpace(s.cfg.Reports.CronSecretHash)
		if hash == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		secret, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeScheduler, "cron")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func subjectFromContext(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}
