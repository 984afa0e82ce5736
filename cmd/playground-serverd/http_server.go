package main

import (
	"net/http"
	"time"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpIdleTimeout       = 60 * time.Second
	httpMaxHeaderBytes    = 32 << 10
)

// newHTTPServer configures conservative handshake timeouts. WriteTimeout
// is deliberately left unset: the SSE and websocket-upgrade endpoints
// are long-lived streams that a fixed write deadline would sever.
func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
		MaxHeaderBytes:    httpMaxHeaderBytes,
	}
}

// newMetricsServer is used for the short-lived /metrics and /healthz
// requests only, so a write timeout is safe there.
func newMetricsServer(handler http.Handler) *http.Server {
	srv := newHTTPServer(handler)
	srv.WriteTimeout = 10 * time.Second
	return srv
}
