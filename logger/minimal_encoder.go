package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
	colorDim   = "\x1b[38;5;245m"
	colorID    = "\x1b[38;5;109m" // aqua
	colorNum   = "\x1b[38;5;175m" // purple
	colorWarn  = "\x1b[38;5;214m"
	colorErr   = "\x1b[38;5;167m"
)

var bufferPool = buffer.NewPool()

// idFields are rendered in the ID color so a job can be followed by eye.
var idFields = map[string]bool{
	FieldJobID:    true,
	FieldOrgID:    true,
	FieldEntityID: true,
	FieldNodeID:   true,
}

// minimalEncoder is a compact console encoder.
// Format: "13:04:35  ꩜  executor  Job executed  job_id=… duration_ms=12"
// Every field is printed, sorted by key.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := newMinimalEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorDim)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if lvl := levelString(ent.Level); lvl != "" {
		final.AppendString("  ")
		final.AppendString(lvl)
	}

	all := make(map[string]interface{}, len(enc.Fields)+len(fields))
	for k, v := range enc.Fields {
		all[k] = v
	}
	scratch := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(scratch)
	}
	for k, v := range scratch.Fields {
		all[k] = v
	}

	if symbol, ok := all[FieldSymbol].(string); ok {
		final.AppendString("  ")
		final.AppendString(symbol)
		delete(all, FieldSymbol)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorBold)
		final.AppendString(ent.LoggerName)
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(ent.Message)

	if len(all) > 0 {
		final.AppendString("  ")
		final.AppendString(formatFields(all))
	}

	if ent.Stack != "" && ent.Level >= zapcore.ErrorLevel {
		final.AppendString("\n")
		final.AppendString(ent.Stack)
	}

	final.AppendString("\n")
	return final, nil
}

func levelString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorDim + "DEBUG" + colorReset
	case zapcore.InfoLevel:
		return ""
	case zapcore.WarnLevel:
		return colorBold + colorWarn + "WARN" + colorReset
	default:
		return colorBold + colorErr + level.CapitalString() + colorReset
	}
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", fields[k])
		switch {
		case idFields[k]:
			v = colorID + v + colorReset
		case isNumber(fields[k]):
			v = colorNum + v + colorReset
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
