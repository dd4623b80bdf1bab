package middleware

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"beam/internal/errors"
	"beam/internal/httputil"
	"beam/internal/privacy"
	"beam/internal/service"
	"beam/internal/tracing"
)

// RecoveryMiddleware turns a handler panic into a 500 ERR_WORKER_UNCAUGHT
// response carrying the panic message. The request is logged with its
// headers redacted.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				err, ok := p.(error)
				if !ok {
					err = fmt.Errorf("%v", p)
				}
				tracing.RecordError(r.Context(), err)

				logger.WithFields(logrus.Fields{
					service.LogFieldEvent:     service.EventWorkerUncaught,
					service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
					service.LogFieldMethod:    r.Method,
					service.LogFieldURL:       r.URL.Path,
					service.LogFieldHeaders:   privacy.RedactHeaders(r.Header),
				}).WithError(err).Error("Recovered from handler panic")

				httputil.WriteError(w, errors.NewUncaughtError(err))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
