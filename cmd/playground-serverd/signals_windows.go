//go:build windows

package main

import (
	"log"

	"github.com/tikaszar/playground-fabric/observability"
)

// watchSignals is a no-op on windows: SIGHUP/SIGUSR1/SIGUSR2 have no
// portable equivalent, so the metrics toggle is configured at startup
// only.
func watchSignals(logger *log.Logger, metrics *observability.AtomicFabricObserver, mcpMetrics *observability.AtomicMCPObserver, enable func() (observability.FabricObserver, observability.MCPObserver), shutdownCh <-chan struct{}) {
	<-shutdownCh
}
