package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fieldops/clog"
)

// ClaimsKey Claims 在 gin.Context 中的键
const ClaimsKey = "auth:claims"

func (a *jwtAuth) GinMiddleware() gin.HandlerFunc {
	return a.middleware(false)
}

func (a *jwtAuth) OptionalGinMiddleware() gin.HandlerFunc {
	return a.middleware(true)
}

func (a *jwtAuth) middleware(optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := a.extractToken(c.Request)
		if errors.Is(err, ErrMissingToken) && optional {
			c.Next()
			return
		}
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		claims, err := a.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(ClaimsKey, claims)
		// 写入标准 Context 键，下游日志经 clog.WithStandardContext 自动带上身份
		ctx := context.WithValue(c.Request.Context(), clog.UserIDKey, claims.Subject)
		if claims.TenantID != "" {
			ctx = context.WithValue(ctx, clog.TenantIDKey, claims.TenantID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRoles 要求同时具备全部指定角色，须挂在认证中间件之后
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			abortUnauthorized(c, ErrMissingToken)
			return
		}
		for _, role := range roles {
			if !claims.HasRole(role) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": gin.H{"code": "FORBIDDEN", "message": "missing role " + role},
				})
				return
			}
		}
		c.Next()
	}
}

// GetClaims 从 gin.Context 获取 Claims
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// Identity 返回已认证调用方的身份，匿名请求返回空串
func Identity(c *gin.Context) string {
	claims, ok := GetClaims(c)
	if !ok {
		return ""
	}
	return claims.Identity()
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "UNAUTHORIZED", "message": err.Error()},
	})
}
