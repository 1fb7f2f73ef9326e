// Package sandbox decides, at task admission time, in which mode agent
// subprocesses may be spawned. The agent CLI runs with its permission prompts
// skipped, so the engine refuses to launch it with uncontained access to the
// host: either the process is already inside a container, the operator has
// explicitly opted in, or each agent gets wrapped in a one-shot container.
package sandbox

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"go.uber.org/zap"
)

// Mode is the admission decision for spawning agents.
type Mode string

const (
	// ModeNative - the process is already inside a container; spawn directly.
	ModeNative Mode = "native"
	// ModeHostOverride - bare host, but the operator set the bypass variable.
	ModeHostOverride Mode = "host-override"
	// ModeContainerWrap - bare host with a container runtime; wrap each agent
	// in a one-shot container.
	ModeContainerWrap Mode = "container-wrap"
	// ModeBlocked - no containment available; reject the task.
	ModeBlocked Mode = "blocked"
)

// BlockedRemedies lists the three ways out of a blocked decision. Included in
// the admission diagnostic so the operator sees them without reading docs.
const BlockedRemedies = "run the engine inside a container (devcontainer or docker), " +
	"install a container runtime so agents can be wrapped, " +
	"or set ORCHESTRA_ALLOW_HOST=true to accept unconfined execution"

// Decision is the resolved sandbox mode plus the marker that produced it.
type Decision struct {
	Mode   Mode
	Reason string
}

// RuntimeProber reports whether an external container runtime is reachable.
// The docker SDK client satisfies this via its Ping round-trip.
type RuntimeProber interface {
	ProbeRuntime(ctx context.Context) bool
}

// Env abstracts environment and marker-file lookups so detection is testable.
type Env struct {
	Getenv     func(string) string
	MarkerFile string // container indicator, normally /.dockerenv
	CgroupFile string // normally /proc/1/cgroup
}

// DefaultEnv inspects the real process environment.
func DefaultEnv() Env {
	return Env{
		Getenv:     os.Getenv,
		MarkerFile: "/.dockerenv",
		CgroupFile: "/proc/1/cgroup",
	}
}

// probeTimeout bounds the container runtime probe.
const probeTimeout = 5 * time.Second

// Resolver caches the admission decision for the process lifetime. Container
// membership does not change while the process runs.
type Resolver struct {
	env       Env
	allowHost bool
	prober    RuntimeProber
	logger    *logger.Logger

	once     sync.Once
	decision Decision
}

// NewResolver builds a resolver. prober may be nil when no container runtime
// client could be constructed; container-wrap is then never offered.
func NewResolver(env Env, allowHost bool, prober RuntimeProber, log *logger.Logger) *Resolver {
	return &Resolver{
		env:       env,
		allowHost: allowHost,
		prober:    prober,
		logger:    log.WithFields(zap.String("component", "sandbox")),
	}
}

// Resolve returns the cached admission decision, computing it on first use.
func (r *Resolver) Resolve(ctx context.Context) Decision {
	r.once.Do(func() {
		r.decision = r.resolve(ctx)
		switch r.decision.Mode {
		case ModeHostOverride:
			r.logger.Warn("sandbox override active: agents run unconfined on the host",
				zap.String("reason", r.decision.Reason))
		case ModeBlocked:
			r.logger.Warn("sandbox blocked: no containment available",
				zap.String("remedies", BlockedRemedies))
		default:
			r.logger.Info("sandbox resolved",
				zap.String("mode", string(r.decision.Mode)),
				zap.String("reason", r.decision.Reason))
		}
	})
	return r.decision
}

func (r *Resolver) resolve(ctx context.Context) Decision {
	if reason, ok := r.containerMarker(); ok {
		return Decision{Mode: ModeNative, Reason: reason}
	}
	if r.allowHost {
		return Decision{Mode: ModeHostOverride, Reason: "sandbox.allowHost set"}
	}
	if r.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if r.prober.ProbeRuntime(probeCtx) {
			return Decision{Mode: ModeContainerWrap, Reason: "container runtime reachable"}
		}
	}
	return Decision{Mode: ModeBlocked, Reason: "not inside a container and no runtime available"}
}

// containerMarker checks, in order: the devcontainer variable, the explicit
// container opt-in, the runtime marker file, and the init cgroup contents.
func (r *Resolver) containerMarker() (string, bool) {
	if r.env.Getenv("DEVCONTAINER") != "" {
		return "DEVCONTAINER set", true
	}
	if r.env.Getenv("ORCHESTRA_CONTAINER") != "" {
		return "ORCHESTRA_CONTAINER set", true
	}
	if _, err := os.Stat(r.env.MarkerFile); err == nil {
		return r.env.MarkerFile + " present", true
	}
	if data, err := os.ReadFile(r.env.CgroupFile); err == nil {
		cgroup := string(data)
		for _, marker := range []string{"docker", "kubepods", "containerd"} {
			if strings.Contains(cgroup, marker) {
				return "cgroup mentions " + marker, true
			}
		}
	}
	return "", false
}
