package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"nrich-session-guard/internal/bootstrap"
)

func main() {
	fmt.Printf("[%s] [INFO] [BOOT] starting nrich-session-agent...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.RunAgent(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "nrich-session-agent failed: %v\n", err)
		os.Exit(1)
	}
}
