package serialmux

import "strings"

const (
	LineTypeAck     = "ack"
	LineTypeError   = "error"
	LineTypeDebug   = "debug"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects a line printed by the robot firmware and returns a
// simple line type token.
func ClassifyLine(line string) string {
	l := strings.ToLower(strings.TrimSpace(line))
	switch {
	case strings.HasPrefix(l, "ack"):
		return LineTypeAck
	case strings.HasPrefix(l, "err"):
		return LineTypeError
	case strings.HasPrefix(l, "#"), strings.HasPrefix(l, "dbg"):
		return LineTypeDebug
	default:
		return LineTypeUnknown
	}
}
