/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package log

import (
	"fmt"
	"unsafe"

	"github.com/ssgreg/logf"
)

// MaskingLogger is a logger that masks secrets in log messages and fields.
// Use it to make sure secrets are not leaked in logs:
// - If you dump gateway requests and responses in debug mode.
// - If a secret is passed via URL (like &access_token=<secret>), a network connectivity error will leak it.
type MaskingLogger struct {
	log    FieldLogger
	masker StringMasker
}

// StringMasker masks secrets in a string.
type StringMasker interface {
	Mask(s string) string
}

// NewMaskingLogger returns a new FieldLogger that masks secrets using the passed masker.
func NewMaskingLogger(l FieldLogger, m StringMasker) FieldLogger {
	return MaskingLogger{l, m}
}

// With returns a new logger with the given additional fields.
func (l MaskingLogger) With(fs ...Field) FieldLogger {
	return MaskingLogger{l.log.With(l.maskFields(fs)...), l.masker}
}

// Debug logs a message at "debug" level.
func (l MaskingLogger) Debug(text string, fs ...Field) {
	l.log.Debug(l.masker.Mask(text), l.maskFields(fs)...)
}

// Info logs a message at "info" level.
func (l MaskingLogger) Info(text string, fs ...Field) {
	l.log.Info(l.masker.Mask(text), l.maskFields(fs)...)
}

// Warn logs a message at "warn" level.
func (l MaskingLogger) Warn(text string, fs ...Field) {
	l.log.Warn(l.masker.Mask(text), l.maskFields(fs)...)
}

// Error logs a message at "error" level.
func (l MaskingLogger) Error(text string, fs ...Field) {
	l.log.Error(l.masker.Mask(text), l.maskFields(fs)...)
}

// Debugf logs a formatted message at "debug" level.
func (l MaskingLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at "info" level.
func (l MaskingLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at "warn" level.
func (l MaskingLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at "error" level.
func (l MaskingLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// AtLevel calls the given fn if logging a message at the specified level
// is enabled, passing a LogFunc with the bound level.
func (l MaskingLogger) AtLevel(level Level, fn func(logFunc LogFunc)) {
	l.log.AtLevel(level, func(logFunc LogFunc) {
		fn(func(msg string, fs ...Field) {
			logFunc(l.masker.Mask(msg), l.maskFields(fs)...)
		})
	})
}

// WithLevel returns a new logger with additional level check.
func (l MaskingLogger) WithLevel(level Level) FieldLogger {
	return MaskingLogger{l.log.WithLevel(level), l.masker}
}

// maskFields masks secrets in string and error log fields.
func (l MaskingLogger) maskFields(fields []Field) []Field {
	var changedFields []*Field
	for i, field := range fields {
		field := field // Important when working with unsafe.Pointer
		switch field.Type {
		case logf.FieldTypeBytesToString:
			s := *(*string)(unsafe.Pointer(&field.Bytes)) // nolint: gosec
			masked := l.masker.Mask(s)
			if masked != s {
				if changedFields == nil {
					changedFields = make([]*Field, len(fields))
				}
				newField := String(field.Key, masked)
				changedFields[i] = &newField
			}
		case logf.FieldTypeError:
			if field.Any == nil {
				continue
			}
			err, ok := field.Any.(error)
			if !ok {
				continue
			}
			s := err.Error()
			masked := l.masker.Mask(s)
			if masked != s {
				if changedFields == nil {
					changedFields = make([]*Field, len(fields))
				}
				newField := NamedError(field.Key, &maskedError{inner: err, masked: masked})
				changedFields[i] = &newField
			}
		}
	}

	if changedFields == nil {
		return fields
	}
	result := make([]Field, len(fields))
	for i := range fields {
		if changedFields[i] != nil {
			result[i] = *changedFields[i]
			continue
		}
		result[i] = fields[i]
	}
	return result
}

// maskedError replaces the error message with its masked version,
// keeping the original error available for unwrapping.
type maskedError struct {
	inner  error
	masked string
}

func (e *maskedError) Error() string {
	return e.masked
}

func (e *maskedError) Unwrap() error {
	return e.inner
}
