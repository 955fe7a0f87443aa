package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/metrics"
)

func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureErr reports err unless it is an expected domain failure.
func CaptureErr(err error) {
	if err == nil || apperr.KindOf(err) != apperr.KindUnexpected {
		return
	}
	sentry.CaptureException(err)
}

// Report logs a failure returned to a caller at the level its kind warrants, counts it,
// and forwards Unexpected failures to Sentry.
func Report(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	kind := apperr.KindOf(err)
	metrics.DomainErrors.WithLabelValues(string(kind)).Inc()
	fields = append(fields, zap.String("kind", string(kind)), zap.Error(err))
	switch kind {
	case apperr.KindUnexpected:
		logger.Error(msg, fields...)
		CaptureErr(err)
	case apperr.KindForbidden, apperr.KindAuthFailure:
		logger.Info(msg, fields...)
	default:
		logger.Debug(msg, fields...)
	}
}
