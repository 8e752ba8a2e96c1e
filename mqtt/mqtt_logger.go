package mqtt

import (
	"context"
	"fmt"
	"log/slog"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mqttLogger lets paho's package level loggers write through slog.
type mqttLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func newMqttLogger(logger *slog.Logger, level slog.Level) *mqttLogger {
	return &mqttLogger{logger: logger, level: level}
}

func (l *mqttLogger) Println(v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprint(v...))
}

func (l *mqttLogger) Printf(format string, v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprintf(format, v...))
}

func installLoggers(logger *slog.Logger) {
	paho.CRITICAL = newMqttLogger(logger, slog.LevelError)
	paho.ERROR = newMqttLogger(logger, slog.LevelError)
	paho.WARN = newMqttLogger(logger, slog.LevelWarn)
}
