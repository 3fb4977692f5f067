package logger

import (
	"github.com/teranos/tempo/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers. The glyph goes in a structured field, not in
// the message, so logs stay queryable by subsystem.
//
//	logger.PulseInfow("Executor started", logger.FieldEntityID, id)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.Pulse, msg, keysAndValues...)
}

// PulseOpenInfow logs graceful startup with the PulseOpen symbol (✿)
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.PulseOpen, msg, keysAndValues...)
}

// PulseCloseInfow logs graceful shutdown with the PulseClose symbol (❀)
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	SymbolInfow(sym.PulseClose, msg, keysAndValues...)
}

// SymbolInfow logs with any symbol
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// Instance logger wrappers, for components holding their own logger:
//
//	e.pulseLog = logger.AddPulseSymbol(log)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddSweepSymbol wraps a logger with the Sweep symbol (⟳)
func AddSweepSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Sweep)
}

// AddRingSymbol wraps a logger with the Ring symbol (◎)
func AddRingSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Ring)
}
