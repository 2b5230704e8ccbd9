// Package logging provides structured logging on top of log/slog.
//
// Records are JSON by default (text for local development) and always carry
// the service name and build version. Components derive child loggers with
// Component and With:
//
//	logger := logging.New(cfg.Logging, version)
//	log := logger.Component("hub")
//	log.Info("device registered", "id", "light1")
//
// Never log credentials; the MQTT password and InfluxDB token stay out of
// every record.
package logging
