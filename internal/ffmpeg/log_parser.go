package ffmpeg

import "strings"

// ParseLogLevel maps a line written with -loglevel level+... onto one of the
// process log levels. Lines look like "[warning] msg" or
// "[mpegts @ 0x55d] [error] msg"; the component prefix is kept in msg.
func ParseLogLevel(line string) (level, msg string) {
	rest, component := line, ""
	for i := 0; i < 2; i++ {
		if !strings.HasPrefix(rest, "[") {
			break
		}
		end := strings.Index(rest, "] ")
		if end < 0 {
			break
		}
		tag := rest[1:end]
		if l, ok := normalizeLevel(tag); ok {
			return l, component + rest[end+2:]
		}
		component += rest[:end+2]
		rest = rest[end+2:]
	}
	return "info", line
}

func normalizeLevel(tag string) (string, bool) {
	switch tag {
	case "panic", "fatal":
		return "fatal", true
	case "error":
		return "error", true
	case "warning":
		return "warning", true
	case "info":
		return "info", true
	case "verbose", "debug", "trace":
		return "debug", true
	case "quiet":
		return "debug", true
	}
	return "", false
}
