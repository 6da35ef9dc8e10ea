package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	dbPath        string
	redisURL      string
	logLevel      string
	providersFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "osint-console",
	Short: "Terminal-first OSINT investigation console",
	Long: `OSINT Console keeps investigations of indicators (IPs, domains, URLs, hashes,
emails, phone numbers, aliases) and dispatches them to analysis providers.

Features:
- VirusTotal, AbuseIPDB and URLVoid lookups
- Delegation to a remote analysis service and to local analysis scripts
- Per-provider failure isolation with append-only result history
- Threat scoring and per-investigation summaries
- SQLite storage, Redis Streams status bus, HTTP API`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.osint-console.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/osint.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL (empty disables the status bus)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, error)")
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers-file", "", "YAML file of provider configs imported on startup")

	// Bind flags to viper
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("providers.file", rootCmd.PersistentFlags().Lookup("providers-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".osint-console" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".osint-console")
	}

	// OSINT_API_TOKEN -> api.token
	viper.SetEnvPrefix("OSINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("database.path", "./data/osint.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.max_len", 10000)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("providers.file", "")
	viper.SetDefault("dispatch.concurrency", 4)
	viper.SetDefault("dispatch.timeout", "120s")
	viper.SetDefault("dispatch.actor", "cli")
	viper.SetDefault("api.bind", "127.0.0.1:8080")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.rate_limit", 100)
	viper.SetDefault("api.cors_origins", []string{})
	viper.SetDefault("import.dir", "")
	viper.SetDefault("import.patterns", "*.jsonl,*.json,*.csv")
	viper.SetDefault("import.investigation", "Imported Targets")
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL:    viper.GetString("redis.url"),
			MaxLen: viper.GetInt64("redis.max_len"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Providers: ProvidersConfig{
			File: viper.GetString("providers.file"),
		},
		Dispatch: DispatchConfig{
			Concurrency: viper.GetInt("dispatch.concurrency"),
			Timeout:     viper.GetDuration("dispatch.timeout"),
			Actor:       viper.GetString("dispatch.actor"),
		},
		API: APIConfig{
			Bind:        viper.GetString("api.bind"),
			Token:       viper.GetString("api.token"),
			RateLimit:   viper.GetInt("api.rate_limit"),
			CORSOrigins: viper.GetStringSlice("api.cors_origins"),
		},
		Import: ImportConfig{
			Dir:           viper.GetString("import.dir"),
			Patterns:      viper.GetString("import.patterns"),
			Investigation: viper.GetString("import.investigation"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	API       APIConfig       `mapstructure:"api"`
	Import    ImportConfig    `mapstructure:"import"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	MaxLen int64  `mapstructure:"max_len"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ProvidersConfig struct {
	File string `mapstructure:"file"`
}

type DispatchConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Actor       string        `mapstructure:"actor"`
}

type APIConfig struct {
	Bind        string   `mapstructure:"bind"`
	Token       string   `mapstructure:"token"`
	RateLimit   int      `mapstructure:"rate_limit"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type ImportConfig struct {
	Dir           string `mapstructure:"dir"`
	Patterns      string `mapstructure:"patterns"`
	Investigation string `mapstructure:"investigation"`
}
