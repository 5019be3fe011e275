package middleware

import (
	"context"
	"net/http"
	"time"
)

const timeoutBody = `{"success":false,"error":{"code":"TIMEOUT","message":"Request timeout"}}`

// Timeout bounds each request to the given budget. The deadline on the
// request context stops downstream work (DB queries, gateway calls) while
// http.TimeoutHandler writes the 503 once the budget runs out.
func Timeout(budget time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := http.TimeoutHandler(next, budget, timeoutBody)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), budget)
			defer cancel()
			guarded.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
