package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	httpclient "judgelet/internal/cli/http"
	"judgelet/internal/cli/repl"
)

func main() {
	baseURL := flag.String("addr", "http://localhost:8090", "Runner service base URL")
	flag.Parse()

	client := httpclient.New(*baseURL)
	session := repl.New(client)
	if err := session.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
		os.Exit(1)
	}
}
