package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// wrapSpec carries the host facts the docker wrap depends on. Fields are
// injectable so tests can exercise the darwin/linux differences without
// running on both.
type wrapSpec struct {
	Image         string
	WorkDir       string
	MCPConfigPath string
	APIPort       int
	GOOS          string
	Home          string
	Exists        func(path string) bool
}

// wrapInDocker rewrites a claude CLI argv into a `docker run --rm`
// invocation. The workdir is mounted at /workspace, CLI and gh credentials
// read-only, and the MCP config is rewritten so the sidechannel inside the
// container reaches the host gateway.
//
// Networking differs per platform: linux shares the host network, darwin
// reaches the host through host.docker.internal.
func wrapInDocker(argv []string, ws wrapSpec) ([]string, error) {
	apiURL := fmt.Sprintf("http://127.0.0.1:%d", ws.APIPort)
	if ws.GOOS == "darwin" {
		apiURL = fmt.Sprintf("http://host.docker.internal:%d", ws.APIPort)
	}

	mcpPath, err := rewriteMCPConfigForContainer(ws.MCPConfigPath, apiURL)
	if err != nil {
		return nil, err
	}

	docker := []string{"docker", "run", "--rm"}
	if ws.GOOS != "darwin" {
		docker = append(docker, "--network", "host")
	}

	docker = append(docker, "-v", ws.WorkDir+":/workspace")

	for _, mount := range []struct{ host, container string }{
		{filepath.Join(ws.Home, ".claude"), "/home/orchestra/.claude"},
		{filepath.Join(ws.Home, ".claude.json"), "/home/orchestra/.claude.json"},
		{filepath.Join(ws.Home, ".config", "gh"), "/home/orchestra/.config/gh"},
	} {
		if ws.Exists(mount.host) {
			docker = append(docker, "-v", mount.host+":"+mount.container+":ro")
		}
	}

	// Mounted at the same path so the --mcp-config argument stays valid.
	docker = append(docker, "-v", mcpPath+":"+mcpPath+":ro")

	docker = append(docker,
		"-e", "ORCHESTRA_CONTAINER=1",
		"-e", "CLAUDECODE=",
		"-w", "/workspace",
		ws.Image,
	)

	for i, arg := range argv {
		switch {
		case i == 0:
			// Host binary paths do not exist inside the image.
			docker = append(docker, filepath.Base(arg))
		case arg == ws.MCPConfigPath:
			docker = append(docker, mcpPath)
		default:
			docker = append(docker, arg)
		}
	}
	return docker, nil
}

// rewriteMCPConfigForContainer produces a container-side copy of the MCP
// config: sidechannel command reduced to its base name (the image has it on
// PATH) and the API URL swapped for the container-reachable one.
func rewriteMCPConfigForContainer(path, apiURL string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read mcp config: %w", err)
	}
	var cfg mcpConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("failed to parse mcp config: %w", err)
	}

	for name, server := range cfg.MCPServers {
		server.Command = filepath.Base(server.Command)
		if server.Env != nil {
			if _, ok := server.Env["ORCHESTRA_API_URL"]; ok {
				server.Env["ORCHESTRA_API_URL"] = apiURL
			}
		}
		cfg.MCPServers[name] = server
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal container mcp config: %w", err)
	}

	rewritten := filepath.Join(filepath.Dir(path), "docker-"+filepath.Base(path))
	if err := os.WriteFile(rewritten, out, 0o600); err != nil {
		return "", fmt.Errorf("failed to write container mcp config: %w", err)
	}
	return rewritten, nil
}
