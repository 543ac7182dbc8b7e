package main

import (
	"github.com/joho/godotenv"

	"github.com/pochtmanr/dopplerland-fleet/cmd/fleetd/cmd"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	// .env is optional, real deployments use environment variables directly
	_ = godotenv.Load()

	cmd.Execute()
}
