// cmd/cli/main.go
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
