package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"gopkg.in/yaml.v3"
)

// SaveProviderConfig creates or replaces a provider's activation flag and
// option list. Option order is preserved.
func (s *Store) SaveProviderConfig(ctx context.Context, cfg osint.ProviderConfig) error {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO provider_configs (name, active, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		name, boolToInt(cfg.Active), time.Now().Unix()); err != nil {
		return rollback(fmt.Errorf("save provider %s: %w", name, err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_options WHERE provider = ?`, name); err != nil {
		return rollback(fmt.Errorf("clear options for %s: %w", name, err))
	}
	for i, o := range cfg.Options {
		if _, err := tx.ExecContext(ctx, `INSERT INTO provider_options (provider, position, name, value, encrypted)
			VALUES (?, ?, ?, ?, ?)`, name, i, o.Name, o.Value, boolToInt(o.Encrypted)); err != nil {
			return rollback(fmt.Errorf("save option %s for %s: %w", o.Name, name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetProviderOption sets a single option, appending it when absent.
func (s *Store) SetProviderOption(ctx context.Context, provider string, opt osint.ProviderOption) error {
	cfg, err := s.GetProviderConfig(ctx, provider)
	if err != nil {
		return err
	}
	replaced := false
	for i := range cfg.Options {
		if strings.EqualFold(cfg.Options[i].Name, opt.Name) {
			cfg.Options[i] = opt
			replaced = true
		}
	}
	if !replaced {
		cfg.Options = append(cfg.Options, opt)
	}
	return s.SaveProviderConfig(ctx, cfg)
}

// SetProviderActive toggles a provider without touching its options.
func (s *Store) SetProviderActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE provider_configs SET active = ?, updated_at = ? WHERE name = ?`,
		boolToInt(active), time.Now().Unix(), strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return fmt.Errorf("failed to update provider %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider %s: %w", name, ErrNotFound)
	}
	return nil
}

// DeleteProviderConfig removes a provider and its options.
func (s *Store) DeleteProviderConfig(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_options WHERE provider = ?`, name); err != nil {
		return rollback(fmt.Errorf("delete options for %s: %w", name, err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM provider_configs WHERE name = ?`, name)
	if err != nil {
		return rollback(fmt.Errorf("delete provider %s: %w", name, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rollback(fmt.Errorf("provider %s: %w", name, ErrNotFound))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetProviderConfig returns one provider's config.
func (s *Store) GetProviderConfig(ctx context.Context, name string) (osint.ProviderConfig, error) {
	configs, err := s.listProviderConfigs(ctx, `WHERE c.name = ?`, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return osint.ProviderConfig{}, err
	}
	if len(configs) == 0 {
		return osint.ProviderConfig{}, fmt.Errorf("provider %s: %w", name, ErrNotFound)
	}
	return configs[0], nil
}

// ListProviderConfigs returns every stored provider config ordered by name.
func (s *Store) ListProviderConfigs(ctx context.Context) ([]osint.ProviderConfig, error) {
	return s.listProviderConfigs(ctx, "")
}

// ListActiveProviderConfigs returns the active provider configs ordered by name.
func (s *Store) ListActiveProviderConfigs(ctx context.Context) ([]osint.ProviderConfig, error) {
	return s.listProviderConfigs(ctx, `WHERE c.active = 1`)
}

func (s *Store) listProviderConfigs(ctx context.Context, where string, args ...interface{}) ([]osint.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.name, c.active, o.name, o.value, o.encrypted
		FROM provider_configs c LEFT JOIN provider_options o ON o.provider = c.name
		`+where+` ORDER BY c.name ASC, o.position ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider configs: %w", err)
	}
	defer rows.Close()

	var configs []osint.ProviderConfig
	for rows.Next() {
		var name string
		var active int
		var optName, optValue *string
		var encrypted *int
		if err := rows.Scan(&name, &active, &optName, &optValue, &encrypted); err != nil {
			return nil, fmt.Errorf("failed to scan provider config: %w", err)
		}
		if len(configs) == 0 || configs[len(configs)-1].Name != name {
			configs = append(configs, osint.ProviderConfig{Name: name, Active: active != 0})
		}
		if optName != nil {
			opt := osint.ProviderOption{Name: *optName}
			if optValue != nil {
				opt.Value = *optValue
			}
			opt.Encrypted = encrypted != nil && *encrypted != 0
			cur := &configs[len(configs)-1]
			cur.Options = append(cur.Options, opt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider configs: %w", err)
	}
	return configs, nil
}

// providerSeed is the on-disk YAML layout for provider configuration.
//
//	providers:
//	  - name: virustotal
//	    active: true
//	    options:
//	      - name: api_key
//	        value: ${VT_API_KEY}
type providerSeed struct {
	Providers []osint.ProviderConfig `yaml:"providers"`
}

// LoadProviderSeed reads a provider seed file. ${VAR} references in option
// values are expanded from the environment.
func LoadProviderSeed(path string) ([]osint.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider seed %s: %w", path, err)
	}
	var seed providerSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse provider seed %s: %w", path, err)
	}
	for i := range seed.Providers {
		for j := range seed.Providers[i].Options {
			o := &seed.Providers[i].Options[j]
			o.Value = os.ExpandEnv(o.Value)
		}
	}
	return seed.Providers, nil
}

// ImportProviderConfigs saves each config, returning how many were written.
func (s *Store) ImportProviderConfigs(ctx context.Context, configs []osint.ProviderConfig) (int, error) {
	n := 0
	for _, cfg := range configs {
		if err := s.SaveProviderConfig(ctx, cfg); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
