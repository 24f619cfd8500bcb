package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/browserdeck/browserdeck/internal/cli"
)

func main() {
	// Optional .env in the working directory; absence is not an error.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
