package main

import (
	"flag"
	"log"
	"net"

	"distledger/code/coordinator"
	"distledger/code/types"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to cluster config JSON")
	flag.Parse()

	if configPath == "" {
		log.Fatal("Please provide the path to the cluster config using --config")
	}

	cfg, err := types.LoadClusterConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.Coordinator)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.Coordinator, err)
	}
	log.Printf("[Coordinator] Listening on %s", cfg.Coordinator)

	coord, err := coordinator.NewCoordinator(cfg)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}
	defer coord.Stop()

	coord.Serve(lis)
}
