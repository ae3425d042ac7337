package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/daogate/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("DAOGATE_DEV_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
