package auth

import (
	"time"

	"github.com/ceyewan/fieldops/xerrors"
	"github.com/golang-jwt/jwt/v5"
)

// Config Auth 配置
type Config struct {
	SecretKey     string   `mapstructure:"secret_key"`     // 签名密钥，至少 32 字符
	SigningMethod string   `mapstructure:"signing_method"` // 目前只支持 HS256
	Issuer        string   `mapstructure:"issuer"`
	Audience      []string `mapstructure:"audience"`

	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"` // 默认 15m

	// TokenLookup 单一提取来源，如 "header:Authorization"、"query:token"、"cookie:jwt"。
	// 留空时依次尝试 header:Authorization、query:token、cookie:jwt。
	TokenLookup   string `mapstructure:"token_lookup"`
	TokenHeadName string `mapstructure:"token_head_name"` // Header 前缀，默认 Bearer
}

func (c *Config) setDefaults() {
	if c.SigningMethod == "" {
		c.SigningMethod = jwt.SigningMethodHS256.Alg()
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.TokenHeadName == "" {
		c.TokenHeadName = "Bearer"
	}
}

func (c *Config) validate() error {
	if len(c.SecretKey) < 32 {
		return xerrors.Wrap(ErrInvalidConfig, "secret_key must be at least 32 characters")
	}
	if c.SigningMethod != jwt.SigningMethodHS256.Alg() {
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported signing_method: %s", c.SigningMethod)
	}
	if c.AccessTokenTTL <= 0 {
		return xerrors.Wrap(ErrInvalidConfig, "access_token_ttl must be positive")
	}
	return nil
}
