package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hospitalcrm.org/internal/mockapi"
	"hospitalcrm.org/internal/obs"
	"hospitalcrm.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("HOSPITALCRM_COMMIT"))

	addr := os.Getenv("HOSPITALCRM_MOCK_ADDR")
	if addr == "" {
		addr = ":3000"
	}
	secret := os.Getenv("HOSPITALCRM_MOCK_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}

	hub := stream.New()
	server := mockapi.New(mockapi.NewStore(), hub, []byte(secret))

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: /events streams for the lifetime of the client.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting hospitalcrm-mockapi %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
