// Package logger provides the application-wide structured logger used by the
// host and handed down to modules through their entry context.
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application-wide logger.
var Logger *zap.Logger

// componentNameKey is a context key for storing the component name.
type componentNameKeyType string

const componentNameKey componentNameKeyType = "componentName"

func init() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	var err error
	Logger, err = config.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(Logger)
}

// WithComponentName creates a new context with the component name set.
// Modules and gateways use this to identify themselves in log output.
func WithComponentName(ctx context.Context, componentName string) context.Context {
	return context.WithValue(ctx, componentNameKey, componentName)
}

// ComponentNameFromContext extracts the component name from the context.
// Returns the empty string when no component was set.
func ComponentNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(componentNameKey).(string)
	return name
}

// For returns a named child logger for the given component, typically a module id.
func For(component string) *zap.Logger {
	return Logger.Named(component)
}

func withComponent(ctx context.Context, fields []zap.Field) []zap.Field {
	if name := ComponentNameFromContext(ctx); name != "" {
		return append(fields, zap.String("component", name))
	}
	return fields
}

// Info logs at info level with the component name from the context attached.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Info(msg, withComponent(ctx, fields)...)
}

// Warn logs at warn level with the component name from the context attached.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Warn(msg, withComponent(ctx, fields)...)
}

// Error logs at error level with the component name from the context attached.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Error(msg, withComponent(ctx, fields)...)
}

// Debug logs at debug level with the component name from the context attached.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Debug(msg, withComponent(ctx, fields)...)
}

// Fatal logs at fatal level and exits.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Fatal(msg, withComponent(ctx, fields)...)
}

// SetLogger allows external packages to set the internal zap.Logger instance.
// This is primarily for testing purposes or advanced logger re-configuration.
func SetLogger(l *zap.Logger) {
	Logger = l
}
