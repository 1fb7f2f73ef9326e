package claudecli

// InvocationSpec describes one non-interactive CLI invocation.
type InvocationSpec struct {
	Binary        string // CLI binary name or path
	Prompt        string // full prompt, passed via -p
	Model         string // model tag; empty omits the flag
	MCPConfigPath string // sidechannel MCP config file; empty omits the flag
}

// BuildArgs assembles the argv for a non-interactive streaming invocation.
// The flag set is fixed by the CLI contract: print mode, stream-json output
// with verbose event detail, and permission prompts skipped (the engine's
// sandbox policy is the safety boundary instead).
func BuildArgs(spec InvocationSpec) []string {
	argv := []string{
		spec.Binary,
		"-p", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if spec.Model != "" {
		argv = append(argv, "--model", spec.Model)
	}
	if spec.MCPConfigPath != "" {
		argv = append(argv, "--mcp-config", spec.MCPConfigPath)
	}
	argv = append(argv, "--dangerously-skip-permissions")
	return argv
}
