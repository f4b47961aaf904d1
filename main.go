package main

import (
	"os"

	"github.com/QingMing-Bot/provision-check/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
