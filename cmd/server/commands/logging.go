package commands

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// configureLogging applies LOG_LEVEL and LOG_FORMAT. Empty values keep the
// info level and the text formatter.
func configureLogging(level, format string) error {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		lvl = parsed
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: want text or json", format)
	}
	return nil
}
