// Package docker wraps the Docker SDK for the two operations the engine
// needs: probing whether a runtime is reachable (sandbox policy) and making
// sure the agent image exists before a container-wrap launch.
package docker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/morbidsteve/agent-orchestra/internal/common/config"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"go.uber.org/zap"
)

// Client wraps the Docker SDK client.
type Client struct {
	cli    *client.Client
	logger *logger.Logger
	config config.DockerConfig

	mu         sync.Mutex
	imageReady map[string]bool
}

// NewClient creates a Docker client. An empty host uses the SDK's
// environment resolution (DOCKER_HOST etc.).
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Client{
		cli:        cli,
		logger:     log.WithFields(zap.String("component", "docker")),
		config:     cfg,
		imageReady: make(map[string]bool),
	}, nil
}

// Close closes the underlying SDK client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ProbeRuntime reports whether the Docker daemon answers within the context
// deadline. Satisfies the sandbox resolver's RuntimeProber.
func (c *Client) ProbeRuntime(ctx context.Context) bool {
	_, err := c.cli.Ping(ctx)
	if err != nil {
		c.logger.Debug("docker runtime probe failed", zap.Error(err))
		return false
	}
	return true
}

// EnsureImage makes sure imageName exists locally, pulling it when absent.
// The result is cached per image for the process lifetime.
func (c *Client) EnsureImage(ctx context.Context, imageName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.imageReady[imageName] {
		return nil
	}

	if _, err := c.cli.ImageInspect(ctx, imageName); err == nil {
		c.imageReady[imageName] = true
		return nil
	}

	c.logger.Info("pulling agent image", zap.String("image", imageName))
	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	// Drain the pull stream; the pull only completes once it is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}

	c.imageReady[imageName] = true
	c.logger.Info("agent image ready", zap.String("image", imageName))
	return nil
}
