package main

import (
	"rentals_service/startup"
	"rentals_service/startup/config"
)

func main() {
	cfg := config.NewConfig()
	server := startup.NewServer(cfg)
	server.Start()
}
