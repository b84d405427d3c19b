package bank

import (
	"errors"
	"strings"

	"quizbot/pkg/logx"
)

// Open initializes the configured bank store.
// It returns (nil, nil) if the bank is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "json", "file":
		return openJSON(cfg, log)
	default:
		return nil, errors.New("unknown bank driver: " + driver)
	}
}
