package registry

// Phase preludes for the static pipeline. Each prelude frames the shared
// task for one phase; the user task is appended after it.
var phasePreludes = map[string]string{
	"plan": "Analyze the following task and produce a concrete implementation plan. " +
		"List the ordered steps, the file-level scope of each, and which steps can run in parallel. " +
		"Do not modify any files.",
	"develop": "Implement the following task. Read the existing code first, follow the " +
		"project's conventions, and write tests alongside your changes.",
	"develop-2": "Implement the independent parts of the following task that do not overlap " +
		"with the primary developer's scope. Stay strictly within your own files.",
	"test": "Write and run tests for the changes made for the following task. " +
		"Run the full existing suite as well; report exact failures. Do not modify production code.",
	"security": "Review the changes made for the following task for security issues. " +
		"Report each finding on its own line prefixed with CRITICAL:, VULNERABILITY:, " +
		"SECRET FOUND:, FINDING:, or WARNING:. Do not modify code.",
	"report": "Summarize what was done for the following task: what was built, test results, " +
		"security status, and all files modified. Do not modify any files.",
}

// PhasePrelude returns the prompt prelude for a pipeline phase. Unknown
// phases get a neutral prelude so a custom pipeline still produces a usable
// prompt.
func PhasePrelude(phase string) string {
	if p, ok := phasePreludes[phase]; ok {
		return p
	}
	return "Complete the " + phase + " phase of the following task."
}
