package main

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/engine/manager"
	"Go2NetSentry/internal/probe"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	log.Println("Starting ns-monitor...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize the engine manager
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	// 3. Start the manager
	mgr.Start()

	// In distributed mode, feed the manager from the NATS result bus.
	var sub *probe.Subscriber
	if cfg.Monitor.Source == "nats" {
		sub, err = probe.NewSubscriber(cfg.NATS)
		if err != nil {
			log.Fatalf("Failed to create NATS subscriber: %v", err)
		}
		input := mgr.InputChannel()
		err = sub.Start(func(batch probe.ResultBatch) {
			input <- batch
		})
		if err != nil {
			log.Fatalf("Subscriber failed to start: %v", err)
		}
		log.Printf("Consuming scan batches from NATS subject %q.", cfg.NATS.Subject)
	}

	// 4. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	log.Println("Shutdown signal received, stopping manager...")
	if sub != nil {
		sub.Close()
	}
	mgr.Stop()
	log.Println("Shutdown complete.")
}
