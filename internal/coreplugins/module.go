// Package coreplugins holds the plugins every bot instance loads: introspection,
// prefix and permission management, and master-only tools.
package coreplugins

import "github.com/keshon/salabot/internal/plugin"

const (
	categoryCore     = "core"
	categorySecurity = "security"
	categoryMaster   = "master"
)

// Module returns the core plugin definitions.
func Module() []plugin.Definition {
	return []plugin.Definition{
		uptime,
		help,
		invite,
		setPrefix,
		commands,
		tasks,
		allow,
		deny,
		permissions,
		guilds,
		broadcast,
	}
}
