package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig lists what browser clients of the run API may send. An origin
// of "*" allows any origin.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowedOrigins   []string      `yaml:"allowedOrigins"`
	AllowedMethods   []string      `yaml:"allowedMethods"`
	AllowedHeaders   []string      `yaml:"allowedHeaders"`
	ExposedHeaders   []string      `yaml:"exposedHeaders"`
	AllowCredentials bool          `yaml:"allowCredentials"`
	MaxAge           time.Duration `yaml:"maxAge"`
}

// corsPolicy is a CORSConfig with its header values precomputed.
type corsPolicy struct {
	origins     []string
	anyOrigin   bool
	credentials bool
	preflight   http.Header
	simple      http.Header
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	methods := cmpOr(cfg.AllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions})
	headers := cmpOr(cfg.AllowedHeaders, []string{"Content-Type", "Idempotency-Key", traceIDHeader, requestIDHeader})
	exposed := cmpOr(cfg.ExposedHeaders, []string{traceIDHeader, requestIDHeader})

	p := corsPolicy{credentials: cfg.AllowCredentials, preflight: http.Header{}, simple: http.Header{}}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins = append(p.origins, strings.ToLower(o))
		}
	}
	p.simple.Set("Access-Control-Expose-Headers", strings.Join(exposed, ", "))
	p.preflight.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	p.preflight.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	if cfg.MaxAge > 0 {
		p.preflight.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	return p.anyOrigin || slices.Contains(p.origins, strings.ToLower(origin))
}

// allowOrigin echoes origin unless the policy is a credential-less wildcard.
func (p corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin && !p.credentials {
		return "*"
	}
	return origin
}

// CORSMiddleware answers preflight requests and tags responses to allowed
// origins. Preflights from other origins get 403; other requests pass
// through without CORS headers.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	p := newCORSPolicy(cfg)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions
		if origin == "" {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		if !p.allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Origin", p.allowOrigin(origin))
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		copyHeaders(h, p.simple)
		if preflight {
			copyHeaders(h, p.preflight)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func copyHeaders(dst, src http.Header) {
	for k, v := range src {
		dst[k] = v
	}
}

func cmpOr(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
