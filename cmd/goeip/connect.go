package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iceisfun/goeip/internal"
	"github.com/iceisfun/goeip/pkg/plc"
	"github.com/iceisfun/goeip/pkg/plcconfig"
)

// openFromFlags resolves connection options from a config profile (if
// --config/--profile are given) or from the shared flag set, then opens
// the connection. Flags always take precedence over a profile's values
// when explicitly set, so a profile can be used as a base and tweaked
// per invocation.
func openFromFlags(cmd *cobra.Command) (*plc.Connection, error) {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := internal.NewZapLogger(logLevel)
	if err != nil {
		return nil, fmt.Errorf("goeip: build logger: %w", err)
	}

	opts, err := resolveOptions(cmd, logger)
	if err != nil {
		return nil, err
	}
	return plc.Open(opts)
}

func resolveOptions(cmd *cobra.Command, logger internal.Logger) (plc.Options, error) {
	configPath, _ := cmd.Flags().GetString("config")
	profileName, _ := cmd.Flags().GetString("profile")

	if configPath != "" {
		cfg, err := plcconfig.Load(configPath)
		if err != nil {
			return plc.Options{}, err
		}
		name := profileName
		if name == "" && len(cfg.Profiles) == 1 {
			name = cfg.Profiles[0].Name
		}
		profile, ok := cfg.Find(name)
		if !ok {
			return plc.Options{}, fmt.Errorf("goeip: profile %q not found in %s", name, configPath)
		}
		return applyFlagOverrides(cmd, profile.Options(plc.WithLogger(logger)))
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		return plc.Options{}, fmt.Errorf("goeip: --addr or --config/--profile is required")
	}
	slot, _ := cmd.Flags().GetInt("slot")
	direct, _ := cmd.Flags().GetBool("direct")
	large, _ := cmd.Flags().GetBool("large-packets")
	opts := []plc.Option{
		plc.WithSlot(slot),
		plc.WithDirectConnection(direct),
		plc.WithLargePackets(large),
		plc.WithLogger(logger),
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		opts = append(opts, plc.WithPort(port))
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout != 0 {
		opts = append(opts, plc.WithTimeout(timeout))
	}
	return plc.NewOptions(addr, opts...), nil
}

// applyFlagOverrides lets any explicitly set connection flag (--addr,
// --port, --slot, --direct, --large-packets, --timeout) override a
// loaded profile's values without requiring a second profile entry.
func applyFlagOverrides(cmd *cobra.Command, opts plc.Options) (plc.Options, error) {
	if cmd.Flags().Changed("addr") {
		opts.IPAddress, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("port") {
		opts.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("timeout") {
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("direct") {
		opts.DirectConnection, _ = cmd.Flags().GetBool("direct")
	}
	if cmd.Flags().Changed("slot") {
		opts.Slot, _ = cmd.Flags().GetInt("slot")
	}
	if cmd.Flags().Changed("large-packets") {
		opts.LargePackets, _ = cmd.Flags().GetBool("large-packets")
	}
	return opts, nil
}
