// The main package for the patchtrace executable.
package main

import (
	"github.com/patchtrace/patchtrace/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
