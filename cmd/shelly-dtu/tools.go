package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shelly-dtu/internal/api"
	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read data once from the inverter",
		Long:  "Connect to the inverter, read all registers once and print the snapshot entry as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			client, sungrow := newInverter(cfg, log)
			defer client.Close()

			reading, err := sungrow.ReadWithRetry(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			output, err := json.MarshalIndent(sungrow.Statistics(reading, time.Now()), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(output))
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the inverter",
		Long:  "Test the Modbus TCP connection to the inverter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Testing connection to %s:%d...\n", cfg.Inverter.IP, cfg.Inverter.Port)

			client, sungrow := newInverter(cfg, log)
			defer client.Close()

			if err := sungrow.TestConnection(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			fmt.Println("Connection SUCCESS!")

			r, err := sungrow.Read(cmd.Context())
			if err != nil {
				fmt.Printf("Warning: Could not read data: %v\n", err)
				return nil
			}
			fmt.Printf("\nInverter Info:\n")
			fmt.Printf("  Serial Number: %s (%d)\n", r.SerialNumber, sungrow.Serial(r))
			fmt.Printf("  Device Type:   %d\n", r.DeviceTypeCode)
			fmt.Printf("  Nominal Power: %.1f kW\n", r.NominalPower)
			fmt.Printf("  Output Type:   %s\n", r.OutputType)
			fmt.Printf("  Status:        %s\n", r.RunningStateString)
			fmt.Printf("\nCurrent Values:\n")
			fmt.Printf("  Power:         %d W\n", r.TotalActivePower)
			fmt.Printf("  Daily Energy:  %.1f kWh\n", r.DailyEnergy)
			fmt.Printf("  Total Energy:  %.1f kWh\n", r.TotalEnergy)
			fmt.Printf("  Temperature:   %.1f °C\n", r.Temperature)
			if r.LimitKnown {
				fmt.Printf("  Power Limit:   %v, %.1f %%\n", r.LimitEnabled, r.LimitPercent)
			}
			return nil
		},
	}
}

// validateKinds maps a document kind to its guard.
var validateKinds = map[string]func([]byte) error{
	"livedata": func(b []byte) error {
		_, err := schema.ParseLiveData(b)
		return err
	},
	"graph": func(b []byte) error {
		_, err := schema.ParseLiveDataGraph(b)
		return err
	},
	"config": func(b []byte) error {
		_, err := schema.ParseShellyConfig(b)
		return err
	},
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <livedata|graph|config> <file>",
		Short: "Validate a JSON document",
		Long:  "Run a live data snapshot, graph answer or Shelly config file through the schema guard. Use - to read stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			check, ok := validateKinds[args[0]]
			if !ok {
				return fmt.Errorf("unknown kind %q, expected livedata, graph or config", args[0])
			}

			var payload []byte
			var err error
			if args[1] == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}

			if err := check(payload); err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid %s\n", args[1], args[0])
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var baseURL, password string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the documents of a running instance",
		Long:  "Fetch status, graph and Shelly config from a running instance and run them through the schema guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			endpoints := []struct{ kind, path string }{
				{"livedata", "/api/livedata/status"},
				{"graph", "/api/livedata/graph?timestamp=0"},
				{"config", "/api/shelly/config"},
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, ep := range endpoints {
				payload, err := fetch(cmd.Context(), client, strings.TrimRight(baseURL, "/")+ep.path, password)
				if err == nil {
					err = validateKinds[ep.kind](payload)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %-28s %v\n", ep.path, err)
					continue
				}
				fmt.Fprintf(out, "OK   %s\n", ep.path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed validation", failed, len(endpoints))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8045", "base URL of the instance")
	cmd.Flags().StringVar(&password, "password", "", "API password for basic authentication")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetch(ctx context.Context, client *http.Client, url, password string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if password != "" {
		req.SetBasicAuth(api.AuthUsername, password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, nil
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find Shelly devices on the local network",
		Long:  "Browse mDNS for Shelly devices and list the hosts usable as Pro3EM or PlugS hostname",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := consoleLogger()
			devices, err := shelly.Discover(cmd.Context(), log.WithName("discover"), timeout)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tMODEL\tKIND\tHOST\tADDRESS")
			for _, d := range devices {
				addr := ""
				if len(d.Addrs) > 0 {
					addr = fmt.Sprintf("%s:%d", d.Addrs[0], d.Port)
				}
				kind := d.Kind
				if kind == "" {
					kind = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Instance, d.Model, kind, d.Host, addr)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "browse duration")
	return cmd
}
