package middleware

import (
	"strings"

	"homeheal/pkg/jwt"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 认证中间件
type AuthMiddleware struct {
	jwtManager *jwt.JWTManager
}

func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// RequireLogin 要求携带有效的JWT令牌
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从Authorization头获取JWT token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 检查Bearer格式
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		tokenString := authHeader[7:] // 去掉 "Bearer "

		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// RequireAdmin 要求管理员权限
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}
		userClaims := claims.(*jwt.JWTClaims)
		if !userClaims.IsAdmin {
			response.Forbidden(c, "权限不足：需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}
