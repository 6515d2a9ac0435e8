package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	prod := New("warn", false)
	assert.Equal(t, logrus.WarnLevel, prod.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, prod.Formatter)

	dev := New("bogus", true)
	assert.Equal(t, logrus.InfoLevel, dev.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, dev.Formatter)
}
