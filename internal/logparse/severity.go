package logparse

import "strings"

// IsSeverityCode reports whether tok is a mongod severity column value
// (F, E, W, I, D, D1..D5).
func IsSeverityCode(tok string) bool {
	switch tok {
	case "F", "E", "W", "I", "D", "D1", "D2", "D3", "D4", "D5":
		return true
	}
	return false
}

// NormalizeSeverity converts mongod severity codes and common spelled-out
// variants to consistent all caps short forms.
func NormalizeSeverity(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "F", "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC":
		return "FATAL"
	case "E", "ERROR", "ERR", "ERRO":
		return "ERROR"
	case "W", "WARN", "WARNING", "WRNG", "WRN":
		return "WARN"
	case "I", "INFO", "INFORMATION", "INF":
		return "INFO"
	case "D", "D1", "D2", "D3", "D4", "D5", "DEBUG", "DEBU", "DBG", "DEB":
		return "DEBUG"
	case "TRACE", "TRAC", "TRC":
		return "TRACE"
	default:
		if len(normalized) >= 4 {
			switch normalized[:4] {
			case "INFO":
				return "INFO"
			case "WARN":
				return "WARN"
			case "ERRO":
				return "ERROR"
			case "DEBU":
				return "DEBUG"
			case "TRAC":
				return "TRACE"
			case "FATA", "CRIT":
				return "FATAL"
			}
		}
		return "INFO"
	}
}
