package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/pkg/types"
)

// 网关注入的身份头
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRoles      = "X-User-Roles"
	HeaderOrganizationID = "X-Organization-ID"
)

const actorKey = "actor"

// ActorFrom 获取认证中间件写入的调用者
func ActorFrom(c *gin.Context) (*types.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*types.Actor)
	return actor, ok && actor != nil
}

// SetActor 写入调用者
func SetActor(c *gin.Context, actor *types.Actor) {
	c.Set(actorKey, actor)
	c.Set("user_id", actor.ID)
}

// KeycloakAuthMiddleware Keycloak JWT 认证中间件
func KeycloakAuthMiddleware(validator *KeycloakTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			unauthorized(c, "missing authorization header", "")
			return
		}

		// 移除 "Bearer " 前缀
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))

		claims, err := validator.ValidateToken(token)
		if err != nil {
			unauthorized(c, "invalid token", err.Error())
			return
		}

		SetActor(c, claims.Actor())
		c.Next()
	}
}

// HeaderAuthMiddleware 信任网关注入的身份头
func HeaderAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			unauthorized(c, "missing "+HeaderUserID+" header", "")
			return
		}

		SetActor(c, &types.Actor{
			ID:             userID,
			OrganizationID: strings.TrimSpace(c.GetHeader(HeaderOrganizationID)),
			Roles:          splitRoles(c.GetHeader(HeaderUserRoles)),
		})
		c.Next()
	}
}

func splitRoles(header string) []string {
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func unauthorized(c *gin.Context, message, detail string) {
	body := gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
	}
	if detail != "" {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}
