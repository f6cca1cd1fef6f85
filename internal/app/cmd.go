package app

// Command is a dmboxd subcommand.
type Command string

const (
	// CommandServe runs the HTTP API. It is the default.
	CommandServe Command = "serve"
	// CommandMigrate applies or reverts the postgres schema.
	CommandMigrate Command = "migrate"
	// CommandHealthcheck probes a running server's /healthz, for
	// container health checks.
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand returns the subcommand and its remaining arguments.
// Empty or unknown input selects CommandServe.
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	switch Command(args[0]) {
	case CommandServe, CommandMigrate, CommandHealthcheck:
		return Command(args[0]), args[1:]
	default:
		return CommandServe, args
	}
}
