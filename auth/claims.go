package auth

import (
	"net/url"

	"github.com/golang-jwt/jwt/v5"
)

// Claims JWT 载荷：标准声明加上 fieldops 的租户与角色。
type Claims struct {
	jwt.RegisteredClaims

	TenantID string         `json:"tid,omitempty"`   // 租户
	Username string         `json:"uname,omitempty"` // 展示用用户名
	Roles    []string       `json:"roles,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Identity 返回调用方的稳定身份。
// 多租户下为 "tenant/subject"，避免不同租户的同名主体共用身份。
// 两部分各自做路径转义，含 "/" 的租户或主体不会与其他组合拼出同一个身份。
func (c *Claims) Identity() string {
	if c == nil || c.Subject == "" {
		return ""
	}
	if c.TenantID == "" {
		return url.PathEscape(c.Subject)
	}
	return url.PathEscape(c.TenantID) + "/" + url.PathEscape(c.Subject)
}

// HasRole 判断是否具备指定角色
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
