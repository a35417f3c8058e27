package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/fmuoria/cv-shortlist-agent/cmd"
)

func main() {
	// A local .env is optional
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
