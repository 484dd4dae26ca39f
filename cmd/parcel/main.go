package main

import (
	"os"

	"github.com/koltyakov/parcel/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
