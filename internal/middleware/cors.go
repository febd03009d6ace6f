package middleware

import (
	"regexp"

	"github.com/valyala/fasthttp"
)

var localhostRegex = regexp.MustCompile(`^https?://localhost:\d+$`)

// CORSMiddleware answers browser preflights for the upload API. Origins are
// matched exactly, "http://localhost:*" matches any local port and a lone
// "*" allows every origin.
type CORSMiddleware struct {
	allowedOrigins []string
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		origin := string(ctx.Request.Header.Peek("Origin"))

		switch {
		case cm.wildcard():
			ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
		case cm.matches(origin):
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
			ctx.Response.Header.Add("Vary", "Origin")
		}

		ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		ctx.Response.Header.Set("Access-Control-Expose-Headers", "Content-Type, Content-Disposition")
		ctx.Response.Header.Set("Access-Control-Max-Age", "86400")

		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// AllowsOrigin reports whether origin may use the API, wildcard included.
func (cm *CORSMiddleware) AllowsOrigin(origin string) bool {
	return cm.wildcard() || cm.matches(origin)
}

func (cm *CORSMiddleware) wildcard() bool {
	return len(cm.allowedOrigins) == 1 && cm.allowedOrigins[0] == "*"
}

func (cm *CORSMiddleware) matches(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range cm.allowedOrigins {
		if allowed == origin {
			return true
		}
		if (allowed == "http://localhost:*" || allowed == "https://localhost:*") && localhostRegex.MatchString(origin) {
			return true
		}
	}
	return false
}
