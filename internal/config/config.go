package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("chirpd version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Twitter TwitterConfig `mapstructure:"twitter"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Store   StoreConfig   `mapstructure:"store"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// TwitterConfig holds the OAuth2 client identity and the provider endpoints.
// The endpoint fields default to the public Twitter API; they are
// configurable so tests can point the client at a local server.
type TwitterConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	CallbackURL  string   `mapstructure:"callback_url"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	APIBaseURL   string   `mapstructure:"api_base_url"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// StoreBackend selects the credential persistence medium
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendFile   StoreBackend = "file"
	StoreBackendSQLite StoreBackend = "sqlite"
)

type StoreConfig struct {
	Backend StoreBackend `mapstructure:"backend"`
	Path    string       `mapstructure:"path"`
}

// DefaultScopes covers every action the dispatcher can perform.
var DefaultScopes = []string{
	"tweet.read", "tweet.write", "users.read",
	"follows.read", "follows.write", "like.read", "like.write",
}

const (
	defaultAuthURL    = "https://twitter.com/i/oauth2/authorize"
	defaultTokenURL   = "https://api.twitter.com/2/oauth2/token"
	defaultAPIBaseURL = "https://api.twitter.com/2"
)

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("config-file", "", "Path to an explicit config file")
	pflag.String("store.backend", string(StoreBackendFile), "Credential store backend (memory|file|sqlite)")
	pflag.String("store.path", "", "Credential store path (file or sqlite backends)")
	// Note: no pflag.Parse() here as it's called in main.go
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("CHIRPD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("twitter.scopes", DefaultScopes)
	viper.SetDefault("twitter.auth_url", defaultAuthURL)
	viper.SetDefault("twitter.token_url", defaultTokenURL)
	viper.SetDefault("twitter.api_base_url", defaultAPIBaseURL)
	viper.SetDefault("openai.model", "gpt-4")
	viper.SetDefault("store.backend", string(StoreBackendFile))
	viper.SetDefault("store.path", "chirpd-credentials.json")

	if file := viper.GetString("config-file"); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/chirpd")
	}

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; everything can come from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Twitter.ClientID == "" || config.Twitter.ClientSecret == "" {
		return nil, fmt.Errorf("twitter.client_id and twitter.client_secret are required, set them in config.yaml or via CHIRPD_TWITTER_CLIENT_ID / CHIRPD_TWITTER_CLIENT_SECRET")
	}
	if config.Twitter.CallbackURL == "" {
		config.Twitter.CallbackURL = fmt.Sprintf("http://%s:%d/auth/callback", config.Server.Host, config.Server.Port)
	}

	switch config.Store.Backend {
	case StoreBackendMemory, StoreBackendFile, StoreBackendSQLite:
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", config.Store.Backend)
	}
	if config.Store.Backend != StoreBackendMemory && config.Store.Path == "" {
		return nil, fmt.Errorf("store.path is required for the %s backend", config.Store.Backend)
	}

	return &config, nil
}
