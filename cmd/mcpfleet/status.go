package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpfleet/mcpfleet/pkg/fleet"
)

const statusRequestTimeout = 5 * time.Second

// statusCmd queries a running daemon for its per-server view.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleet status from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}

			var status fleet.ManagerStatus
			if err := fetchJSON(addr+"/status", &status); err != nil {
				return err
			}

			printStatus(cmd, status)

			return nil
		},
	}

	cmd.Flags().String("addr", "http://localhost:9090", "Base URL of the running daemon's metrics server")

	return cmd
}

// statsCmd queries a running daemon for call statistics.
func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show call statistics from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}

			var stats fleet.AllStats
			if err := fetchJSON(addr+"/stats", &stats); err != nil {
				return err
			}

			printStats(cmd, stats)

			return nil
		},
	}

	cmd.Flags().String("addr", "http://localhost:9090", "Base URL of the running daemon's metrics server")

	return cmd
}

func fetchJSON(url string, out any) error {
	client := &http.Client{Timeout: statusRequestTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s for %s", resp.Status, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func printStatus(cmd *cobra.Command, status fleet.ManagerStatus) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Fleet Status")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Servers:   %d total, %d connected, %d disconnected\n",
		status.TotalServers, status.ConnectedServers, status.DisconnectedServers)
	fmt.Fprintf(out, "Index:     %d tools, %d resources, %d prompts\n",
		status.TotalTools, status.TotalResources, status.TotalPrompts)
	fmt.Fprintf(out, "Heartbeat: %s\n", runningLabel(status.HeartbeatRunning))
	fmt.Fprintln(out)

	names := make([]string, 0, len(status.Servers))
	for name := range status.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		server := status.Servers[name]

		state := "disconnected"
		if server.Connected {
			state = "connected"
		} else if !server.Enabled {
			state = "disabled"
		}

		fmt.Fprintf(out, "%s (%s)\n", name, server.Transport)
		fmt.Fprintf(out, "  State:     %s\n", state)
		fmt.Fprintf(out, "  Tools:     %d\n", server.ToolCount)
		fmt.Fprintf(out, "  Breaker:   %s\n", server.CircuitBreaker.State)

		if server.ConsecutiveFailures > 0 {
			fmt.Fprintf(out, "  Failures:  %d consecutive\n", server.ConsecutiveFailures)
		}

		capabilities := make([]string, 0, 2)
		if server.SupportsResources {
			capabilities = append(capabilities, "resources")
		}
		if server.SupportsPrompts {
			capabilities = append(capabilities, "prompts")
		}
		if len(capabilities) > 0 {
			fmt.Fprintf(out, "  Supports:  %s\n", strings.Join(capabilities, ", "))
		}

		fmt.Fprintln(out)
	}
}

func printStats(cmd *cobra.Command, stats fleet.AllStats) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Fleet Statistics")
	fmt.Fprintln(out, "================")
	fmt.Fprintf(out, "Calls:  %d total, %d ok, %d failed\n",
		stats.Global.TotalCalls, stats.Global.SuccessCalls, stats.Global.FailedCalls)
	fmt.Fprintf(out, "Uptime: %s\n", (time.Duration(stats.Global.UptimeSeconds)*time.Second).String())
	fmt.Fprintf(out, "Rate:   %.2f calls/min\n", stats.Global.CallsPerMinute)
	fmt.Fprintln(out)

	servers := make([]string, 0, len(stats.Servers))
	for name := range stats.Servers {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	for _, name := range servers {
		server := stats.Servers[name]
		fmt.Fprintf(out, "%s: %d connects, %d disconnects, %d reconnects\n",
			name, server.TotalConnects, server.TotalDisconnects, server.TotalReconnects)

		tools := make([]string, 0, len(stats.Tools[name]))
		for tool := range stats.Tools[name] {
			tools = append(tools, tool)
		}
		sort.Strings(tools)

		for _, tool := range tools {
			toolStats := stats.Tools[name][tool]
			fmt.Fprintf(out, "  %-24s %d calls, %.1f%% ok, avg %.0fms\n",
				tool, toolStats.TotalCalls, toolStats.SuccessRate, toolStats.AvgDurationMS)
		}
	}
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}

	return "stopped"
}
