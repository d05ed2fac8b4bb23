package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/livecache/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "livecache",
	Short: "Live-synced API cache client",
	Long: `livecache talks to the project API with retries and token refresh, and keeps
cached project lists in sync with change events pushed over the realtime broker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// flag name -> viper key; keys resolve to the matching upper-case env var.
var boundFlags = map[string]string{
	"api-url":    "api_base_url",
	"ws-url":     "ws_url",
	"transport":  "ws_transport",
	"vhost":      "ws_vhost",
	"token-file": "auth_token_file",
	"redis-addr": "redis_addr",
	"log-level":  "log_level",
	"log-format": "log_format",
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(loadEnvFiles)

	flags := rootCmd.PersistentFlags()
	flags.String("api-url", "", "API base URL")
	flags.String("ws-url", "", "realtime endpoint URL (derived from the origin when empty)")
	flags.String("transport", "", "realtime transport: websocket, sockjs or redis")
	flags.String("vhost", "", "broker virtual host")
	flags.String("token-file", "", "JSON file holding the access and refresh tokens")
	flags.String("redis-addr", "", "Redis address for the redis transport")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")

	for name, key := range boundFlags {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}

	rootCmd.AddCommand(projectsCmd, watchCmd, serveCmd)
}

// loadEnvFiles loads .env then .env.local. Existing variables win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// loadConfig layers flags over the environment over defaults.
func loadConfig() *config.Config {
	cfg := config.FromEnv()
	set := func(dst *string, key string) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.API.BaseURL, "api_base_url")
	set(&cfg.Realtime.URL, "ws_url")
	set(&cfg.Realtime.Transport, "ws_transport")
	set(&cfg.Realtime.VirtualHost, "ws_vhost")
	set(&cfg.Auth.TokenFile, "auth_token_file")
	set(&cfg.Redis.Addr, "redis_addr")
	set(&cfg.Log.Level, "log_level")
	set(&cfg.Log.Format, "log_format")
	return cfg
}
