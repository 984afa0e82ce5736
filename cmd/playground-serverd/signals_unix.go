//go:build !windows

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tikaszar/playground-fabric/observability"
)

// watchSignals handles SIGHUP as a no-op reload notice and SIGUSR1/SIGUSR2
// as a runtime metrics on/off toggle, until shutdownCh fires.
func watchSignals(logger *log.Logger, metrics *observability.AtomicFabricObserver, mcpMetrics *observability.AtomicMCPObserver, enable func() (observability.FabricObserver, observability.MCPObserver), shutdownCh <-chan struct{}) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Print("SIGHUP received: configuration reload is not supported, ignoring")
			case syscall.SIGUSR1:
				fabricObs, mcpObs := enable()
				metrics.Set(fabricObs)
				mcpMetrics.Set(mcpObs)
				logger.Print("SIGUSR1 received: metrics enabled")
			case syscall.SIGUSR2:
				metrics.Set(observability.NoopFabricObserver)
				mcpMetrics.Set(observability.NoopMCPObserver)
				logger.Print("SIGUSR2 received: metrics disabled")
			}
		case <-shutdownCh:
			return
		}
	}
}
