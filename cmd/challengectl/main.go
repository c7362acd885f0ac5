package main

import (
	"os"

	"github.com/joho/godotenv"

	"savitAPI/internal/cli"
)

func main() {
	// Settings read straight from the environment (FCM credentials) need
	// .env loaded into the process as well.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
