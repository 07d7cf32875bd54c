package commands

import (
	"akademik/api/internal/config"
)

type Flags struct {
	LogLevel  string
	LogFile   string
	LogPretty bool
	EnvFile   string

	// Config is loaded in the Before hook and available to all commands
	Config config.Config
}
