package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Configure analysis providers",
	Long: `List, configure, enable and check analysis providers. Provider options are
stored in the database; API keys and base URLs are plain options.

Known providers: virustotal, abuseipdb, urlvoid, fastapi (alias python_api),
script (alias local_script), whois, geoip, misp, intelowl, opencti, hibp, dorking and
alias_search.

Examples:
  osint-console providers set virustotal api_key=$VT_KEY
  osint-console providers set fastapi base_url=http://localhost:8000 api_key=secret timeout=60s
  osint-console providers set script scripts_dir=./scripts python=python3
  osint-console providers set intelowl base_url=https://intelowl.local api_key=$TOKEN mode=submit
  osint-console providers set dorking api_key=$GOOGLE_KEY cse_id=$CSE_ID priority=medium
  osint-console providers disable urlvoid
  osint-console providers import ./providers.yaml
  osint-console providers health`,
}

var (
	providersInactive      bool
	providersHealthTimeout time.Duration
)

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := GetConfig()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		configs, err := st.ListProviderConfigs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list providers: %w", err)
		}
		if len(configs) == 0 {
			fmt.Printf("No providers configured. Known providers: %s\n", strings.Join(providers.Registered(), ", "))
			return nil
		}

		registry := providers.Build(configs, nil)
		supported := make(map[string][]string)
		for _, d := range registry.Describe() {
			supported[d.Name] = d.SupportedTypes
		}
		skipped := make(map[string]string)
		for _, s := range registry.Skipped() {
			skipped[s.Name] = s.Reason
		}

		for _, c := range configs {
			state := "inactive"
			if c.Active {
				state = "active"
			}
			fmt.Printf("%s [%s]\n", c.Name, state)
			for _, o := range c.Options {
				fmt.Printf("   %s = %s\n", o.Name, maskOption(o))
			}
			if types, ok := supported[c.Name]; ok {
				fmt.Printf("   Supports: %s\n", strings.Join(types, ", "))
			}
			if reason, ok := skipped[c.Name]; ok {
				fmt.Printf("   Not usable: %s\n", reason)
			}
			fmt.Println()
		}
		return nil
	},
}

var providersSetCmd = &cobra.Command{
	Use:   "set <provider> key=value...",
	Short: "Create a provider or set its options",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		name := strings.ToLower(strings.TrimSpace(args[0]))
		current, err := st.GetProviderConfig(ctx, name)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			current = osint.ProviderConfig{Name: name, Active: true}
		default:
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		if cmd.Flags().Changed("inactive") {
			current.Active = !providersInactive
		}

		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid option %q, expected key=value", kv)
			}
			current = setOption(current, osint.ProviderOption{Name: strings.TrimSpace(k), Value: v})
		}

		if err := st.SaveProviderConfig(ctx, current); err != nil {
			return fmt.Errorf("failed to save provider %s: %w", name, err)
		}
		if !isRegistered(name) {
			fmt.Printf("Warning: %s is not a known provider and will be ignored\n", name)
		}
		fmt.Printf("Saved provider %s (%d options)\n", name, len(current.Options))
		return nil
	},
}

var providersEnableCmd = &cobra.Command{
	Use:   "enable <provider>",
	Short: "Activate a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd.Context(), args[0], true) },
}

var providersDisableCmd = &cobra.Command{
	Use:   "disable <provider>",
	Short: "Deactivate a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd.Context(), args[0], false) },
}

var providersDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove a provider and its options",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteProviderConfig(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete provider: %w", err)
		}
		fmt.Printf("Deleted provider %s\n", args[0])
		return nil
	},
}

var providersImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import provider configs from a YAML file",
	Long: `Import provider configs from YAML. Option values may reference environment
variables ($VT_API_KEY). Existing providers with the same name are replaced.

  providers:
    - name: virustotal
      active: true
      options:
        - {name: api_key, value: $VT_API_KEY}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		configs, err := store.LoadProviderSeed(args[0])
		if err != nil {
			return err
		}
		n, err := st.ImportProviderConfigs(ctx, configs)
		if err != nil {
			return fmt.Errorf("imported %d providers before failing: %w", n, err)
		}
		fmt.Printf("Imported %d providers from %s\n", n, args[0])
		return nil
	},
}

var providersHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check reachability of the active providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), providersHealthTimeout)
		defer cancel()

		cfg := GetConfig()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		registry, err := providers.Load(ctx, st, newLogger(cfg, "providers"))
		if err != nil {
			return err
		}

		results := registry.HealthCheck(ctx)
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)

		unhealthy := 0
		for _, name := range names {
			if err := results[name]; err != nil {
				unhealthy++
				fmt.Printf("  %-12s FAIL  %v\n", name, err)
				continue
			}
			fmt.Printf("  %-12s OK\n", name)
		}
		for _, s := range registry.Skipped() {
			unhealthy++
			fmt.Printf("  %-12s SKIP  %s\n", s.Name, s.Reason)
		}

		if unhealthy > 0 {
			return fmt.Errorf("%d of %d providers unhealthy", unhealthy, len(names)+len(registry.Skipped()))
		}
		fmt.Printf("All providers healthy (%d checked)\n", len(names))
		return nil
	},
}

func setActive(ctx context.Context, name string, active bool) error {
	st, err := openStore(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetProviderActive(ctx, name, active); err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("Provider %s %s\n", name, state)
	return nil
}

func setOption(cfg osint.ProviderConfig, opt osint.ProviderOption) osint.ProviderConfig {
	for i := range cfg.Options {
		if strings.EqualFold(cfg.Options[i].Name, opt.Name) {
			cfg.Options[i] = opt
			return cfg
		}
	}
	cfg.Options = append(cfg.Options, opt)
	return cfg
}

func isRegistered(name string) bool {
	for _, n := range providers.Registered() {
		if n == name {
			return true
		}
	}
	return false
}

// maskOption hides secrets so that list output can be shared.
func maskOption(o osint.ProviderOption) string {
	lower := strings.ToLower(o.Name)
	secret := o.Encrypted
	for _, s := range []string{"key", "token", "secret", "password"} {
		if strings.Contains(lower, s) {
			secret = true
		}
	}
	if !secret || o.Value == "" {
		return o.Value
	}
	if len(o.Value) <= 4 {
		return "****"
	}
	return "****" + o.Value[len(o.Value)-4:]
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd, providersSetCmd, providersEnableCmd, providersDisableCmd,
		providersDeleteCmd, providersImportCmd, providersHealthCmd)

	providersSetCmd.Flags().BoolVar(&providersInactive, "inactive", false, "Store the provider as inactive")
	providersHealthCmd.Flags().DurationVar(&providersHealthTimeout, "timeout", 30*time.Second, "Overall health check timeout")
}
