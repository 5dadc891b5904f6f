// Command brokerctl is a minimal example client for the agent-gate
// broker's local transport: it sends one newline-delimited JSON request
// over the Unix socket and prints the single response line.
//
// Usage:
//
//	brokerctl read op://sec/stripe/key "checking webhook signature"
//	brokerctl ping
//	brokerctl status
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/rudenavuud/agent-gate/internal/config"
)

const defaultTransportPath = "/var/run/agent-gate.sock"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <ping|status|read> [reference] [reason]\n", os.Args[0])
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	req := map[string]interface{}{"action": args[0]}
	if len(args) > 1 {
		req["reference"] = args[1]
	}
	if len(args) > 2 {
		req["reason"] = args[2]
	}

	socketPath := envOr(config.EnvTransportPath, defaultTransportPath)

	if err := run(socketPath, req); err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}
}

func run(socketPath string, req map[string]interface{}) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %q: %w", socketPath, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Print(reply)
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
