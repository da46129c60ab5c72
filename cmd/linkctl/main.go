package main

import (
	"os"

	"accountlink/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
