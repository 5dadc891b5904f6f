// Command broker runs the agent-gate secret-approval broker daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rudenavuud/agent-gate/common/version"
	"github.com/rudenavuud/agent-gate/internal/app"
	"github.com/rudenavuud/agent-gate/internal/config"
)

const defaultConfigPath = "/etc/agent-gate/config.yaml"

func main() {
	fmt.Printf("agent-gate broker\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfgPath := config.ResolveConfigPath(defaultConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize broker: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	if err := a.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error running broker: %v\n", err)
		os.Exit(1)
	}
}
