// Package auth 提供基于 JWT 的认证能力：签发、校验、刷新，以及 Gin 中间件与角色校验。
//
//	authenticator, _ := auth.New(&auth.Config{SecretKey: "..."})
//	token, _ := authenticator.GenerateToken(ctx, &auth.Claims{
//	    RegisteredClaims: jwt.RegisteredClaims{Subject: "tech-42"},
//	    TenantID:         "acme",
//	})
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/xerrors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator 认证器接口
type Authenticator interface {
	// GenerateToken 签发 Token，未设置的 exp/iat/iss 使用配置补齐
	GenerateToken(ctx context.Context, claims *Claims) (string, error)

	// ValidateToken 校验签名与有效期，返回 Claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)

	// RefreshToken 以原 Claims 重新签发
	RefreshToken(ctx context.Context, token string) (string, error)

	// GinMiddleware 强制认证：缺失或非法 Token 一律 401
	GinMiddleware() gin.HandlerFunc

	// OptionalGinMiddleware 可选认证：缺失 Token 匿名放行，非法 Token 仍然 401
	OptionalGinMiddleware() gin.HandlerFunc
}

type jwtAuth struct {
	config    *Config
	logger    clog.Logger
	validated metrics.Counter
	generated metrics.Counter
}

// New 创建 Authenticator
func New(cfg *Config, opts ...Option) (Authenticator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	validated, err := o.meter.Counter(MetricTokensValidated, "Total number of tokens validated")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create validated counter")
	}
	generated, err := o.meter.Counter(MetricTokensGenerated, "Total number of tokens generated")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create generated counter")
	}

	return &jwtAuth{
		config:    cfg,
		logger:    o.logger,
		validated: validated,
		generated: generated,
	}, nil
}

func (a *jwtAuth) GenerateToken(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil {
		return "", ErrInvalidClaims
	}

	now := time.Now()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.config.AccessTokenTTL))
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.Issuer == "" {
		claims.Issuer = a.config.Issuer
	}
	if len(claims.Audience) == 0 && len(a.config.Audience) > 0 {
		claims.Audience = a.config.Audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		a.generated.Inc(ctx, metrics.L("status", "error"))
		return "", xerrors.Wrap(err, "auth: sign token")
	}

	a.generated.Inc(ctx, metrics.L("status", "success"))
	a.logger.DebugContext(ctx, "token generated", clog.String("identity", claims.Identity()))
	return signed, nil
}

func (a *jwtAuth) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{a.config.SigningMethod})}
	if a.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.config.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(a.config.SecretKey), nil
	}, parserOpts...)

	if err != nil {
		var errType string
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			errType, err = "expired", ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			errType, err = "invalid_signature", ErrInvalidSignature
		default:
			errType, err = "invalid_token", ErrInvalidToken
		}
		a.validated.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", errType))
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		a.validated.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", "invalid_claims"))
		return nil, ErrInvalidToken
	}

	a.validated.Inc(ctx, metrics.L("status", "success"))
	return claims, nil
}

func (a *jwtAuth) RefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := a.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	claims.ExpiresAt = nil
	claims.IssuedAt = nil
	return a.GenerateToken(ctx, claims)
}

// extractToken 从请求中提取 token
func (a *jwtAuth) extractToken(r *http.Request) (string, error) {
	if a.config.TokenLookup != "" {
		source, key, ok := strings.Cut(a.config.TokenLookup, ":")
		if !ok {
			return "", ErrMissingToken
		}
		return a.extractFrom(r, source, key)
	}

	for _, lookup := range [][2]string{{"header", "Authorization"}, {"query", "token"}, {"cookie", "jwt"}} {
		token, err := a.extractFrom(r, lookup[0], lookup[1])
		if !errors.Is(err, ErrMissingToken) {
			return token, err
		}
	}
	return "", ErrMissingToken
}

func (a *jwtAuth) extractFrom(r *http.Request, source, key string) (string, error) {
	switch source {
	case "header":
		value := r.Header.Get(key)
		if value == "" {
			return "", ErrMissingToken
		}
		head, token, ok := strings.Cut(value, " ")
		if !ok || head != a.config.TokenHeadName || token == "" {
			return "", ErrInvalidToken
		}
		return token, nil
	case "query":
		if token := r.URL.Query().Get(key); token != "" {
			return token, nil
		}
	case "cookie":
		if cookie, err := r.Cookie(key); err == nil && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", ErrMissingToken
}
