// The main package for the research executable.
package main

import (
	"github.com/JakeFAU/web-research-pipeline/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
