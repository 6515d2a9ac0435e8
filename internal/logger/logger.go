package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Field keys shared across the service
const (
	FieldUserID  = "user_id"
	FieldTripID  = "trip_id"
	FieldBidID   = "bid_id"
	FieldEvent   = "event"
	FieldSession = "session_id"
)

// New builds the application logger. Production logs are JSON, development
// logs are human readable.
func New(level string, development bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if development {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	return log
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
