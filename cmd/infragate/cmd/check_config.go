package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/config"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

var checkConfigDevMode bool

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and capability registry",
	Long: `Load and validate infragate.yaml, the capability registry it points to,
and any validator rules, without starting the gateway.`,
	RunE: runCheckConfig,
}

func init() {
	checkConfigCmd.Flags().BoolVar(&checkConfigDevMode, "dev", false, "validate with dev defaults applied")
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(checkConfigDevMode)
	if err != nil {
		return err
	}

	catalog := proposal.DefaultCatalog()
	var reg *capability.Registry
	if cfg.Capabilities.Path != "" {
		reg, err = capability.LoadFile(cfg.Capabilities.Path)
	} else {
		reg, err = devRegistry(catalog)
	}
	if err != nil {
		return err
	}
	if err := cfg.ValidateRoles(reg); err != nil {
		return err
	}
	if _, err := createValidator(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f := config.ConfigFileUsed(); f != "" {
		fmt.Fprintf(out, "config:       %s\n", f)
	} else {
		fmt.Fprintln(out, "config:       (environment only)")
	}
	fmt.Fprintf(out, "registry:     version %s, %d roles\n", reg.Version(), len(reg.Roles()))
	fmt.Fprintf(out, "identities:   %d (%d api keys)\n", len(cfg.Auth.Identities), len(cfg.Auth.APIKeys))
	fmt.Fprintf(out, "rules:        %d custom\n", len(cfg.Validator.Rules))
	fmt.Fprintf(out, "audit:        %s\n", cfg.Audit.Backend)
	fmt.Fprintf(out, "confirmation: %s (window %s)\n", cfg.Confirmation.Backend, cfg.Confirmation.Window)
	fmt.Fprintf(out, "executor:     %s\n", cfg.Executor.Mode)
	for _, role := range reg.Roles() {
		var unknown []string
		for _, c := range reg.Capabilities(role) {
			name, ok := actionName(c)
			if ok {
				if _, known := catalog.Lookup(name); !known {
					unknown = append(unknown, name)
				}
			}
		}
		if len(unknown) > 0 {
			fmt.Fprintf(out, "warning:      role %s grants unknown actions %v\n", role, unknown)
		}
	}
	fmt.Fprintln(out, "ok")
	return nil
}

// actionName returns the action behind a tool capability.
func actionName(c capability.Capability) (string, bool) {
	name, ok := strings.CutPrefix(string(c), capability.ToolPrefix)
	return name, ok && name != ""
}
