package main

import (
	"os"

	"github.com/joho/godotenv"

	appLog "sevcal/internal/log"
)

func main() {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		appLog.Warn("failed to load .env", "error", err.Error())
	}
	Execute()
}
