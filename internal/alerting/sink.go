package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink delivers a rendered alert. A nil error means the provider confirmed
// acceptance, not merely that the request went out.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// LogSink writes messages to the logger and always succeeds.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs a sink for dry runs and local setups.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (s *LogSink) Send(_ context.Context, text string) error {
	s.logger.Info().Str("text", text).Msg("alert delivered (log)")
	return nil
}

var _ Sink = (*LogSink)(nil)
