package main

import (
	"squeeze-radar/app"
	"squeeze-radar/config"
)

func main() {
	// Load config from .env file
	cfg := config.LoadFromEnv()

	// Create and start app; blocks until shutdown
	application := app.New(cfg)
	application.Start()
}
