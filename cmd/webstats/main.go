// main.go - HTTP server application
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"webstats/internal"
)

func main() {
	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	waitForShutdownSignal(app, errChan)
}

// waitForShutdownSignal blocks until a termination signal or a listener
// failure, then performs graceful shutdown.
func waitForShutdownSignal(app *internal.Application, errChan <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	log.Println("Initiating graceful shutdown...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	log.Println("Server shutdown complete")
}
