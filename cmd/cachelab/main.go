// Command cachelab runs the storefront cache engine and its maintenance tasks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cachelab:", err)
		os.Exit(1)
	}
}
