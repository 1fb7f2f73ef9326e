// Package workspace resolves per-task working directories and extracts
// project conventions to feed into agent prompts.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Per-file read caps for the context block. A huge CLAUDE.md must not crowd
// the task out of the prompt.
const (
	claudeMDCap  = 5000
	readmeCap    = 2000
	pyprojectCap = 3000
	goModCap     = 2000
)

// ResolveWorkDir returns the working directory for a task. With no request
// it creates `<projectsDir>/<taskID>`; a requested path must be an absolute,
// existing directory.
func ResolveWorkDir(projectsDir, taskID, requested string) (string, error) {
	if requested == "" {
		dir := filepath.Join(projectsDir, taskID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create task workdir: %w", err)
		}
		return dir, nil
	}

	if !filepath.IsAbs(requested) {
		return "", fmt.Errorf("workdir must be an absolute path: %s", requested)
	}
	info, err := os.Stat(requested)
	if err != nil {
		return "", fmt.Errorf("workdir does not exist: %s", requested)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workdir is not a directory: %s", requested)
	}
	return filepath.Clean(requested), nil
}

// BuildContext assembles a "## Project Context" prompt block from the
// convention files found in dir. Missing or unreadable files are skipped;
// an empty string means no context was found.
func BuildContext(dir string) string {
	var sections []string

	if text := readCapped(filepath.Join(dir, "CLAUDE.md"), claudeMDCap); text != "" {
		sections = append(sections, "### CLAUDE.md (Project Conventions)\n"+text)
	}
	if text := readCapped(filepath.Join(dir, "README.md"), readmeCap); text != "" {
		sections = append(sections, "### README.md (Overview)\n"+text)
	}
	if text := summarizePackageJSON(filepath.Join(dir, "package.json")); text != "" {
		sections = append(sections, "### package.json (Key Info)\n"+text)
	}
	if text := readCapped(filepath.Join(dir, "pyproject.toml"), pyprojectCap); text != "" {
		sections = append(sections, "### pyproject.toml\n"+text)
	}
	if text := readCapped(filepath.Join(dir, "go.mod"), goModCap); text != "" {
		sections = append(sections, "### go.mod\n"+text)
	}

	if len(sections) == 0 {
		return ""
	}
	return "## Project Context\n\n" + strings.Join(sections, "\n\n")
}

func readCapped(path string, maxChars int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := string(data)
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return strings.TrimSpace(text)
}

// summarizePackageJSON extracts scripts and dependency names rather than
// dumping the whole file.
func summarizePackageJSON(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Scripts         map[string]string `json:"scripts"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	var parts []string
	if len(pkg.Scripts) > 0 {
		names := make([]string, 0, len(pkg.Scripts))
		for name := range pkg.Scripts {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]string, 0, len(names))
		for _, name := range names {
			entries = append(entries, fmt.Sprintf("`%s`: %s", name, pkg.Scripts[name]))
		}
		parts = append(parts, "**Scripts:** "+strings.Join(entries, ", "))
	}
	if names := sortedKeys(pkg.Dependencies); len(names) > 0 {
		parts = append(parts, "**dependencies:** "+strings.Join(names, ", "))
	}
	if names := sortedKeys(pkg.DevDependencies); len(names) > 0 {
		parts = append(parts, "**devDependencies:** "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
