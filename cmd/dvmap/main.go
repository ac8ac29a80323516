// Command dvmap reconstructs climate design value fields from a model
// ensemble and station observations.
package main

import (
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
