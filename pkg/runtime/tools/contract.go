package tools

// RequiredCommands are the host binaries worldkeeper shells out to. Merges
// and resets that keep untracked files go through the git CLI.
var RequiredCommands = []string{
	"git",
}

// OptionalCommands help with troubleshooting but are never invoked; the
// container engine is driven through its API.
var OptionalCommands = []string{
	"docker",
}

// RequiredCommandsList returns a copy so callers cannot mutate the contract.
func RequiredCommandsList() []string {
	out := make([]string, len(RequiredCommands))
	copy(out, RequiredCommands)
	return out
}

// OptionalCommandsList returns a copy of OptionalCommands.
func OptionalCommandsList() []string {
	out := make([]string, len(OptionalCommands))
	copy(out, OptionalCommands)
	return out
}
