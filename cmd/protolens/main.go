// cmd/protolens/main.go
package main

import (
	"os"

	"github.com/protolens/protolens/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
