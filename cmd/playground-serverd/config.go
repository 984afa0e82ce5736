package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/tikaszar/playground-fabric/internal/cmdutil"
	"github.com/tikaszar/playground-fabric/internal/defaults"
)

// config holds every tunable named in the external-interfaces
// configuration surface: frame rate, queue limits, idle thresholds,
// keep-alive period, and bind addresses. Each flag except -verbose
// falls back to an environment variable, then to the package default.
type config struct {
	listen        string
	metricsListen string
	wsPath        string
	allowOrigin   []string
	verbose       bool

	frameRateHz        int
	maxChannels        int
	softQueueLimit     int
	hardQueueLimit     int
	connIdleTimeout    time.Duration
	sessionIdleTimeout time.Duration
	mcpKeepalive       time.Duration
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("playground-serverd", flag.ContinueOnError)

	listen := fs.String("listen", cmdutil.EnvString("PGF_LISTEN", ":8808"), "address to bind the websocket and MCP HTTP surface")
	metricsListen := fs.String("metrics-listen", cmdutil.EnvString("PGF_METRICS_LISTEN", ""), "address to bind /metrics and /healthz, empty disables")
	wsPath := fs.String("ws-path", cmdutil.EnvString("PGF_WS_PATH", "/ws"), "path the packet-fabric websocket is served on")
	verbose := fs.Bool("verbose", false, "log websocket upgrade failures, per-packet decode failures, and tool-result delivery failures")

	defaultFrameRate, err := cmdutil.EnvInt("PGF_FRAME_RATE_HZ", defaults.FrameRateHz)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_FRAME_RATE_HZ: %v", err)}
	}
	frameRateHz := fs.Int("frame-rate-hz", defaultFrameRate, "batcher tick rate in Hz")

	defaultMaxChannels, err := cmdutil.EnvInt("PGF_MAX_CHANNELS", defaults.MaxChannels)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_MAX_CHANNELS: %v", err)}
	}
	maxChannels := fs.Int("max-channels", defaultMaxChannels, "maximum registrable channels")

	defaultSoft, err := cmdutil.EnvInt("PGF_SOFT_QUEUE_LIMIT", defaults.SoftQueueLimit)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_SOFT_QUEUE_LIMIT: %v", err)}
	}
	softQueueLimit := fs.Int("soft-queue-limit", defaultSoft, "per-channel soft backpressure limit")

	defaultHard, err := cmdutil.EnvInt("PGF_HARD_QUEUE_LIMIT", defaults.HardQueueLimit)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_HARD_QUEUE_LIMIT: %v", err)}
	}
	hardQueueLimit := fs.Int("hard-queue-limit", defaultHard, "per-channel Critical hard limit")

	defaultConnIdle, err := cmdutil.EnvDuration("PGF_CONN_IDLE_TIMEOUT", defaults.ConnIdleTimeout)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_CONN_IDLE_TIMEOUT: %v", err)}
	}
	connIdleTimeout := fs.Duration("conn-idle-timeout", defaultConnIdle, "connection idle threshold")

	defaultSessionIdle, err := cmdutil.EnvDuration("PGF_SESSION_IDLE_TIMEOUT", defaults.SessionIdleTimeout)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_SESSION_IDLE_TIMEOUT: %v", err)}
	}
	sessionIdleTimeout := fs.Duration("session-idle-timeout", defaultSessionIdle, "MCP session idle threshold")

	defaultKeepalive, err := cmdutil.EnvDuration("PGF_MCP_KEEPALIVE", defaults.MCPKeepalive)
	if err != nil {
		return config{}, &cmdutil.UsageError{Msg: fmt.Sprintf("PGF_MCP_KEEPALIVE: %v", err)}
	}
	mcpKeepalive := fs.Duration("mcp-keepalive", defaultKeepalive, "SSE keep-alive comment interval")

	allowOriginDefault := cmdutil.SplitCSVEnv("PGF_ALLOW_ORIGIN")
	var allowOriginFlag string
	fs.StringVar(&allowOriginFlag, "allow-origin", "", "comma-separated Origin allow-list override")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	allowOrigin := allowOriginDefault
	if allowOriginFlag != "" {
		allowOrigin = splitCSV(allowOriginFlag)
	}
	if len(allowOrigin) == 0 {
		allowOrigin = []string{"localhost", "127.0.0.1"}
	}

	return config{
		listen:             *listen,
		metricsListen:      *metricsListen,
		wsPath:             *wsPath,
		allowOrigin:        allowOrigin,
		verbose:            *verbose,
		frameRateHz:        *frameRateHz,
		maxChannels:        *maxChannels,
		softQueueLimit:     *softQueueLimit,
		hardQueueLimit:     *hardQueueLimit,
		connIdleTimeout:    *connIdleTimeout,
		sessionIdleTimeout: *sessionIdleTimeout,
		mcpKeepalive:       *mcpKeepalive,
	}, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
