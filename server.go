package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/routes"
	"bitbucket.org/mmdatafocus/parts_backend/workflow"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	router := routes.SetupRouter()
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())

	// Start listening before connecting to backends so health probes pass
	// while the DB is still coming up.
	go func() {
		log.Printf("listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry()
		if err := models.MigrateTable(config.GetDB()); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		workflow.RunOutboxDispatcher(dispatcherCtx, 5*time.Second)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	stopDispatcher()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
