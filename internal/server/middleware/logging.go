// Package middleware provides HTTP middleware for request logging.
package middleware

import (
	"context"
	"time"

	pkglog "VerseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging returns a middleware that records method, path, duration and
// outcome for every request.
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			method := "UNKNOWN"
			path := "unknown"
			if tr, ok := transport.FromServerContext(ctx); ok {
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					method = ht.Request().Method
					path = ht.Request().URL.Path
				}
			}

			reply, err := handler(ctx, req)

			status := 200
			if err != nil {
				status = 500
				if se, ok := err.(interface{ GetCode() int32 }); ok {
					status = int(se.GetCode())
				}
			}
			logger.Request(method, path, status, time.Since(start).Milliseconds())

			return reply, err
		}
	}
}
