package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"shelly-dtu/config"
	"shelly-dtu/internal/inverter"
	"shelly-dtu/internal/logging"
	"shelly-dtu/internal/modbus"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shelly-dtu",
		Short: "Inverter monitor with Shelly zero feed-in control",
		Long: "Reads a Sungrow inverter via Modbus TCP, follows a Shelly Pro3EM meter and PlugS,\n" +
			"limits the inverter output to keep grid feed-in at the target and serves the live data.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(discoverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logr.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, logr.Discard(), fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, logr.Discard(), err
	}
	return cfg, log, nil
}

// consoleLogger is used by commands that run without a config file.
func consoleLogger() logr.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logging.NewWithWriter(logging.Config{Level: level}, os.Stderr, logging.IsTerminal())
}

func newInverter(cfg *config.Config, log logr.Logger) (*modbus.Client, *inverter.Sungrow) {
	client := modbus.NewClient(modbus.Config{
		Host:    cfg.Inverter.IP,
		Port:    cfg.Inverter.Port,
		UnitID:  cfg.Inverter.SlaveID,
		Timeout: cfg.Inverter.Timeout,
	}, log.WithName("modbus"))

	sungrow := inverter.NewSungrow(client, inverter.Config{
		Serial:       cfg.Inverter.Serial,
		Name:         cfg.Inverter.Name,
		Order:        cfg.Inverter.Order,
		MPPTMaxPower: cfg.Inverter.MPPTMaxPower,
		StaleAfter:   cfg.Inverter.StaleAfter,
	})
	return client, sungrow
}
