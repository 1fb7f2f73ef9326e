// Package registry maps free-form agent role strings to prompts and display
// metadata. The core catalog is embedded; operators can overlay additional
// roles from a YAML file at runtime. Lookups never fail: an unknown role
// resolves to a derived generic specialist.
package registry

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var rolesFS embed.FS

// Role describes one agent role: its prompt and how the dashboard renders it.
type Role struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Color  string `yaml:"color" json:"color"`
	Icon   string `yaml:"icon" json:"icon"`
	Model  string `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt string `yaml:"prompt" json:"-"`
}

type rolesConfig struct {
	Version string `yaml:"version"`
	Roles   []Role `yaml:"roles"`
}

// Fallback display attributes for roles outside the catalog.
const (
	genericColor = "#6b7280"
	genericIcon  = "Bot"
)

// Registry resolves role ids to Role records.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// New loads the embedded catalog. The embedded file is compiled in, so a
// parse failure is a build defect and panics rather than returning an error.
func New() *Registry {
	data, err := rolesFS.ReadFile("roles.yaml")
	if err != nil {
		panic(fmt.Sprintf("registry: embedded roles.yaml missing: %v", err))
	}
	var cfg rolesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("registry: embedded roles.yaml invalid: %v", err))
	}

	r := &Registry{roles: make(map[string]Role, len(cfg.Roles))}
	for _, role := range cfg.Roles {
		r.roles[role.ID] = role
	}
	return r
}

// LoadOverlay merges user-defined roles from a YAML file. Overlay entries
// replace catalog entries with the same id.
func (r *Registry) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read role overlay: %w", err)
	}
	var cfg rolesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse role overlay: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range cfg.Roles {
		if role.ID == "" {
			continue
		}
		r.roles[role.ID] = role
	}
	return nil
}

// Get resolves a role id. Unknown roles yield a generic specialist derived
// from the id - never an error, so orchestrators may invent roles freely.
func (r *Registry) Get(roleID string) Role {
	r.mu.RLock()
	role, ok := r.roles[roleID]
	r.mu.RUnlock()
	if ok {
		return role
	}
	return genericRole(roleID)
}

// Known reports whether the role is in the catalog (or overlay).
func (r *Registry) Known(roleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[roleID]
	return ok
}

// List returns all catalog roles, for the orchestrator prompt's role section.
func (r *Registry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out
}

func genericRole(roleID string) Role {
	display := strings.TrimSpace(strings.ReplaceAll(roleID, "-", " "))
	if display == "" {
		display = "specialist"
	}
	return Role{
		ID:    roleID,
		Name:  titleCase(display) + " Specialist",
		Color: genericColor,
		Icon:  genericIcon,
		Prompt: fmt.Sprintf(
			"You are a %s specialist. Complete the assigned task thoroughly and report what you did.",
			display),
	}
}

// titleCase upper-cases the first letter of each word. strings.Title is
// deprecated and the input here is ASCII role ids, so this stays local.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
