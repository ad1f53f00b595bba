// internal/api/middleware.go
package api

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/CineGenStudio/internal/auth"
	"github.com/Corphon/CineGenStudio/internal/config"
	"github.com/gin-gonic/gin"
)

var tokenConfig *auth.TokenConfig

// InitializeAuth initializes the session token system with config
func InitializeAuth() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	var secret []byte
	var err error

	// Try to get secret from environment variable first
	envSecret := os.Getenv("AUTH_SECRET_KEY")
	if envSecret != "" {
		secret = []byte(envSecret)
	} else {
		if os.Getenv("DEBUG_MODE") == "true" || cfg.DebugMode {
			// Use a consistent key during development to avoid session issues on restart
			secret = []byte("dev_auth_key_for_testing_purposes_only_")
			log.Printf("⚠️ 警告: 开发模式下使用固定认证密钥，生产环境请通过环境变量设置 AUTH_SECRET_KEY")
		} else {
			secret, err = auth.GenerateSecureKey(32)
			if err != nil {
				entropy := fmt.Sprintf("%s_%d_%d", cfg.DataDir, time.Now().UnixNano(), os.Getpid())
				secret = []byte(entropy)
				log.Printf("Warning: When using derived keys, it is recommended to set them in environment variables AUTH_SECRET_KEY")
			}
		}
	}

	// Ensure the secret is exactly 32 bytes
	if len(secret) < 32 {
		paddedSecret := make([]byte, 32)
		copy(paddedSecret, secret)
		secret = paddedSecret
	} else if len(secret) > 32 {
		secret = secret[:32]
	}

	tokenConfig = &auth.TokenConfig{
		Secret:     secret,
		Expiration: 24 * time.Hour,
	}

	return nil
}

// AuthMiddleware 解析会话令牌并把会话信息注入请求上下文
// 缺失或非法的令牌降级为匿名会话，不阻断请求
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Set("user_id", "console_user")
			c.Set("login_mode", string(auth.ModeDev))
			c.Set("user_authenticated", false)
			c.Next()
			return
		}

		parsedToken, err := auth.ParseToken(token, tokenConfig)
		if err != nil {
			log.Printf("AuthMiddleware: invalid token detected (%v), downgrading to anonymous session", err)
			c.Set("user_id", "console_user")
			c.Set("login_mode", string(auth.ModeDev))
			c.Set("user_authenticated", false)
			c.Set("auth_error", err.Error())
			c.Next()
			return
		}

		c.Set("user_id", parsedToken.UserID)
		c.Set("login_mode", string(parsedToken.Mode))
		c.Set("user_authenticated", true)

		c.Next()
	}
}

// extractToken 从请求头或查询参数提取令牌
// WebSocket 握手无法携带自定义请求头，允许通过 token 查询参数传递
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return strings.TrimSpace(token)
	}

	return strings.TrimSpace(c.Query("token"))
}

// corsMiddleware 跨域支持
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 基于固定窗口的简易限流器
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
}

type visitor struct {
	remaining int
	reset     time.Time
}

// NewRateLimiter 创建限流器并启动过期清理
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
	}

	go rl.cleanup()

	return rl
}

// cleanup 定期移除过期的访客记录
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, v := range rl.visitors {
			if now.After(v.reset) {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow 判断给定键在当前窗口内是否还有配额
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[key]

	if !exists || now.After(v.reset) {
		rl.visitors[key] = &visitor{
			remaining: limit - 1,
			reset:     now.Add(window),
		}
		return true
	}

	if v.remaining <= 0 {
		return false
	}

	v.remaining--
	return true
}

// RateLimitMiddleware 按客户端IP限制生成类接口的调用频率
func RateLimitMiddleware(limiter *RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP(), limit, window) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "请求过于频繁，请稍后再试",
				},
			})
			return
		}

		c.Next()
	}
}
