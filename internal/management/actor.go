package management

import (
	"context"

	"github.com/gin-gonic/gin"
)

// ChangedByHeader names the caller recorded in the audit trail. The authentication layer in front
// of the service is expected to set it.
const ChangedByHeader = "X-User-ID"

type actorKey struct{}

type actor struct {
	userID string
	ip     string
}

func WithActor(ctx context.Context, userID, ip string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{userID: userID, ip: ip})
}

func getChangedBy(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(actor); ok && a.userID != "" {
		return a.userID
	}
	return "system"
}

func getClientIP(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		return a.ip
	}
	return ""
}

// ActorMiddleware stores the caller identity and address on the request context.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithActor(c.Request.Context(), c.GetHeader(ChangedByHeader), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
