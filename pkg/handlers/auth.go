package handlers

import (
	"context"
	"crypto/subtle"
	"strings"

	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/router"
)

// RequireBearer gates next behind "Authorization: Bearer <token>". The
// token is an accessor so config hot reloads take effect; an empty token
// disables the gate entirely.
func RequireBearer(token func() string, next router.Handler) router.HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		want := token()
		if want == "" {
			return next.Handle(ctx, req, resp)
		}

		auth, _ := req.Header("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			resp.SetStatus(401, "")
			resp.AddHeader("WWW-Authenticate", "Bearer")
			resp.SetJSONString(`{"error":"Unauthorized"}`)
			return nil
		}
		return next.Handle(ctx, req, resp)
	}
}
