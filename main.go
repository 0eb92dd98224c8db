// ./main.go
package main

import (
	"github.com/xkilldash9x/stitch-cli/cmd"
)

// main is the entry point for the stitch CLI application.
func main() {
	cmd.Execute()
}
