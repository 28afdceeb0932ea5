package main

import (
	"os"

	"github.com/joho/godotenv"

	"gp-config-mcp/internal/cli"
)

func main() {
	// A .env in the working tree may carry DATABASE_URL during development.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
