// Package sym defines the glyphs tempo attaches to structured log lines.
// Logs carry the glyph as a field (see logger.FieldSymbol) so they can be
// filtered by subsystem without parsing messages.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // job execution
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	Sweep      = "⟳" // anti-entropy sweep
	Ring       = "◎" // cluster membership and routing
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
)

// names maps glyphs to the subsystem name used in CLI output.
var names = map[string]string{
	Pulse:      "pulse",
	PulseOpen:  "pulse-open",
	PulseClose: "pulse-close",
	Sweep:      "sweep",
	Ring:       "ring",
	DB:         "db",
	AM:         "am",
}

// Name returns the subsystem name for a glyph, or "" if unknown.
func Name(glyph string) string {
	return names[glyph]
}

// FromName returns the glyph for a subsystem name, or "" if unknown.
func FromName(name string) string {
	for g, n := range names {
		if n == name {
			return g
		}
	}
	return ""
}
