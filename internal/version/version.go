// Package version holds build identity. Version and Commit are set with -ldflags.
package version

var (
	AppName        = "salabot"
	AppDescription = "A plugin driven Discord bot with recurring tasks and role based permissions."
	Version        = "dev"
	Commit         = "none"
)

// UserAgent identifies outgoing HTTP requests.
func UserAgent() string {
	return AppName + "/" + Version
}
