// Package env contains the environment variable names the control plane
// reads at startup (§6 "Startup configuration").
package env

import "os"

var Chaos = struct {
	Port     string
	LabsDir  string
	LogsDir  string
	CurrLab  string
	LabPrefix string
}{
	Port:      "port",
	LabsDir:   "labs_dir",
	LogsDir:   "logs_dir",
	CurrLab:   "curr_lab",
	LabPrefix: "lab_prefix",
}

// Config is the resolved startup configuration.
type Config struct {
	Port      string
	LabsDir   string
	LogsDir   string
	CurrLab   string
	LabPrefix string
}

// Load resolves Config from the process environment, applying the given
// defaults for any variable that is unset.
func Load(defaults Config) Config {
	return Config{
		Port:      getOr(Chaos.Port, defaults.Port),
		LabsDir:   getOr(Chaos.LabsDir, defaults.LabsDir),
		LogsDir:   getOr(Chaos.LogsDir, defaults.LogsDir),
		CurrLab:   getOr(Chaos.CurrLab, defaults.CurrLab),
		LabPrefix: getOr(Chaos.LabPrefix, defaults.LabPrefix),
	}
}

func getOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}
