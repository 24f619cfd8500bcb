package config

import "fmt"

// Issue describes one config validation problem.
type Issue struct {
	Path    string
	Message string
}

// Validate checks a loaded config for inconsistent values. It returns all
// issues found rather than stopping at the first.
func Validate(cfg *Config) []Issue {
	var issues []Issue

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		issues = append(issues, Issue{
			Path:    "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", cfg.Server.Port),
		})
	}
	switch cfg.Server.Bind {
	case "loopback", "lan", "custom":
	default:
		issues = append(issues, Issue{
			Path:    "server.bind",
			Message: fmt.Sprintf("unknown bind mode %q (expected loopback, lan, or custom)", cfg.Server.Bind),
		})
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, Issue{
			Path:    "server.customBindHost",
			Message: "bind mode custom requires customBindHost",
		})
	}
	if cfg.Browser.ActionTimeoutSeconds < 1 {
		issues = append(issues, Issue{
			Path:    "browser.actionTimeoutSeconds",
			Message: "must be at least 1",
		})
	}
	if cfg.Browser.MaxSessions < 1 {
		issues = append(issues, Issue{
			Path:    "browser.maxSessions",
			Message: "must be at least 1",
		})
	}
	if cfg.Tasks.MaxSteps < 1 {
		issues = append(issues, Issue{
			Path:    "tasks.maxSteps",
			Message: "must be at least 1",
		})
	}
	if cfg.Tasks.TimeoutMinutes < 1 {
		issues = append(issues, Issue{
			Path:    "tasks.timeoutMinutes",
			Message: "must be at least 1",
		})
	}

	return issues
}
