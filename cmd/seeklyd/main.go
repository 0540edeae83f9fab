package main

import (
	"log"
	"os"

	"github.com/arashpx/seekly/config"
	"github.com/arashpx/seekly/internal/server"
)

func main() {
	cfgPath := os.Getenv("SEEKLY_CONFIG")
	cfg := config.LoadConfig(cfgPath)

	if err := server.Run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
