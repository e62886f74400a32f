// The main package for the dirworker executable.
package main

import (
	"github.com/localpages/dirworker/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
