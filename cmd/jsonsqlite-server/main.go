// Package main implements the jsonsqlite-server binary, which serves the
// export and import API over HTTP until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jsonsqlite/jsonsqlite/internal/cli"
)

func main() {
	if err := cli.ExecuteServer(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "jsonsqlite-server: %v\n", err)
		os.Exit(1)
	}
}
