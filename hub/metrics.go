package hub

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type intentMetrics struct {
	logger       *log.Logger
	start        time.Time
	intent       string
	connectionID string
	errorStage   string
}

func newIntentMetrics(logger *log.Logger, intent, connectionID string) *intentMetrics {
	return &intentMetrics{
		logger:       logger,
		start:        time.Now(),
		intent:       intent,
		connectionID: connectionID,
	}
}

func (m *intentMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *intentMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"intent":     m.intent,
		"connection": m.connectionID,
		"total_ms":   durationToMillis(time.Since(m.start)),
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("hub.intent.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
