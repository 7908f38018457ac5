package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// GateStatus holds health information reported by a running gate.
type GateStatus struct {
	Addr  string `json:"addr"`
	Live  bool   `json:"live"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
	jsonOutput  bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running LinkGate process",
		Long:  `Query the liveness and readiness probes of a running gate's observability endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "observability address of the running gate")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryGateStatus(cfg.metricsAddr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	switch {
	case status.Error != "":
		cmd.Printf("linkgate at %s: unreachable (%s)\n", status.Addr, status.Error)
	case status.Live && status.Ready:
		cmd.Printf("linkgate at %s: running, ready\n", status.Addr)
	case status.Live:
		cmd.Printf("linkgate at %s: running, not ready\n", status.Addr)
	default:
		cmd.Printf("linkgate at %s: not healthy\n", status.Addr)
	}
	return nil
}

// queryGateStatus probes the observability endpoints of a running gate.
func queryGateStatus(addr string) GateStatus {
	status := GateStatus{Addr: addr}
	client := &http.Client{Timeout: 2 * time.Second}

	live, err := probe(client, addr, "/healthz/liveness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Live = live

	ready, err := probe(client, addr, "/healthz/readiness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Ready = ready

	return status
}

func probe(client *http.Client, addr, path string) (bool, error) {
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return false, fmt.Errorf("failed to read probe response: %w", err)
	}

	return resp.StatusCode == http.StatusOK &&
		strings.TrimSpace(string(body)) == "ok", nil
}
