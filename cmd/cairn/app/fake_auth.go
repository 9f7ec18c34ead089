package app

import (
	"net/http"

	"github.com/grafana/dskit/middleware"
	"github.com/grafana/dskit/user"

	"github.com/cairndb/cairn/pkg/util"
)

var fakeHTTPAuthMiddleware = middleware.Func(func(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := user.InjectOrgID(r.Context(), util.FakeTenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
})
