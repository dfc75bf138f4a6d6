package credentials

import (
	"net/url"
	"strings"
)

// Cookie mirrors the browser-extension export format the service accepts.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expirationDate,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

// Bundle is an ordered set of cookies forming one authenticated session.
type Bundle []Cookie

// Clone returns an independent copy of the bundle.
func (b Bundle) Clone() Bundle {
	if len(b) == 0 {
		return nil
	}
	out := make(Bundle, len(b))
	copy(out, b)
	return out
}

// Email extracts the account email carried by Google session exports, when
// present. The value is URL-encoded and sometimes quoted in the raw export.
func (b Bundle) Email() (string, bool) {
	for _, c := range b {
		if c.Name != "email" && c.Name != "EMAIL" {
			continue
		}
		v := strings.Trim(c.Value, `"`)
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		return v, v != ""
	}
	return "", false
}

// Normalize cleans a raw export so the browser accepts every cookie: sameSite
// collapses to Strict/Lax/None with Lax for anything unknown, expiry is kept
// only for non-session cookies, and entries missing a name, value, or domain
// are dropped.
func Normalize(raw Bundle) Bundle {
	out := make(Bundle, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" || c.Value == "" || c.Domain == "" {
			continue
		}
		c.SameSite = normalizeSameSite(c.SameSite)
		if c.Path == "" {
			c.Path = "/"
		}
		if c.Session {
			c.Expires = 0
		}
		out = append(out, c)
	}
	return out
}

func normalizeSameSite(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return "Strict"
	case "none":
		return "None"
	default:
		return "Lax"
	}
}
