// Command pmsource clusters particulate composition samples into source
// regimes with fuzzy c-means and profiles each regime.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
