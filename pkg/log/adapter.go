package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
)

// KratosAdapter exposes a zap logger through the kratos log.Logger
// interface. The "msg" key, when present, becomes the zap message;
// remaining pairs become structured fields, with string values passed
// through SanitizeField so secrets and user content never reach a sink
// unmasked.
type KratosAdapter struct {
	zapLogger *zap.Logger
}

// NewKratosAdapter wraps a zap logger for kratos.
func NewKratosAdapter(zapLogger *zap.Logger) log.Logger {
	return &KratosAdapter{zapLogger: zapLogger}
}

// Log implements log.Logger.
func (a *KratosAdapter) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}

	msg := ""
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		value := keyvals[i+1]

		if key == "msg" {
			msg = fmt.Sprint(value)
			continue
		}
		if strValue, ok := value.(string); ok {
			fields = append(fields, zap.String(key, SanitizeField(key, strValue)))
		} else {
			fields = append(fields, zap.Any(key, value))
		}
	}

	switch level {
	case log.LevelDebug:
		a.zapLogger.Debug(msg, fields...)
	case log.LevelWarn:
		a.zapLogger.Warn(msg, fields...)
	case log.LevelError:
		a.zapLogger.Error(msg, fields...)
	case log.LevelFatal:
		a.zapLogger.Fatal(msg, fields...)
	default:
		a.zapLogger.Info(msg, fields...)
	}
	return nil
}
