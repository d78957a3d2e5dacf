package runtime

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Logger returns a component logger in the "[NAME] " style used across the
// service.
func Logger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.LstdFlags)
}

// DebugLogger returns a component logger when debug is on and a discarding
// one otherwise.
func DebugLogger(component string, debug bool) *log.Logger {
	if !debug {
		return log.New(io.Discard, "", 0)
	}
	return Logger(component)
}

// WaitForShutdown blocks until ctx is cancelled or an interrupt arrives.
func WaitForShutdown(ctx context.Context, service string) {
	if service == "" {
		service = "service"
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Printf("[%s] context cancelled, shutting down", service)
	case sig := <-sigCh:
		log.Printf("[%s] received signal %s, shutting down", service, sig)
	}
}
