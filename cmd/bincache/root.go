package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pior/bincache"
)

// wrap is the column help texts are wrapped at.
const wrap = 50

var (
	client *bincache.Client

	rootCmd = &cobra.Command{
		Use:   "bincache",
		Short: "typed cache client for memcached binary protocol servers",
		Long: `bincache reads and writes typed values (strings, numbers, booleans,
objects) on one or more memcached binary protocol servers.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("servers", bincache.DefaultAddr, wrapString("Comma separated server list. Use unix:/path for unix sockets"))
	flags.String("user", "", wrapString("SASL PLAIN user"))
	flags.String("password", "", wrapString("SASL PLAIN password"))
	flags.Int32("max-size", bincache.DefaultMaxSize, wrapString("Maximum number of connections"))
	flags.Int("max-retries", bincache.DefaultMaxRetries, wrapString("Extra connection attempts after a failure"))
	flags.Duration("retry-timeout", bincache.DefaultRetryTimeout, wrapString("Delay between connection attempts to a single server"))
	flags.Duration("idle-timeout", bincache.DefaultIdleTimeout, wrapString("Close connections idle for this long"))
	flags.Duration("dial-timeout", bincache.DefaultDialTimeout, wrapString("Timeout of each connection attempt"))
	flags.Int("forbid-count", bincache.DefaultForbidCount, wrapString("Connection attempts that skip a failed server"))
	flags.Int("compress-threshold", bincache.DefaultCompressThreshold, wrapString("Deflate values larger than this many bytes, -1 to disable"))
	flags.Duration("timeout", 5*time.Second, wrapString("Timeout of each command"))
	flags.Bool("circuit-breaker", false, wrapString("Guard connection attempts with a circuit breaker per server"))
	flags.String("pool", "node", wrapString("Connection pool implementation (node, puddle)"))
	flags.String("log-level", "warn", wrapString("Log level (debug, info, warn, error)"))

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, benchCmd, statsCmd)
}

// initConfig loads .env files and binds BINCACHE_* environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("bincache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupClient(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := initLogger(viper.GetString("log-level")); err != nil {
		return err
	}

	config, err := clientConfig()
	if err != nil {
		return err
	}
	client, err = bincache.NewClient(config)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if client != nil {
		client.Close()
	}
	return nil
}

func clientConfig() (bincache.Config, error) {
	nodes, err := parseServers(viper.GetString("servers"))
	if err != nil {
		return bincache.Config{}, err
	}

	config := bincache.Config{
		Nodes:             nodes,
		User:              viper.GetString("user"),
		Password:          viper.GetString("password"),
		MaxSize:           viper.GetInt32("max-size"),
		MaxRetries:        viper.GetInt("max-retries"),
		RetryTimeout:      viper.GetDuration("retry-timeout"),
		IdleTimeout:       viper.GetDuration("idle-timeout"),
		DialTimeout:       viper.GetDuration("dial-timeout"),
		ForbidCount:       viper.GetInt("forbid-count"),
		CompressThreshold: viper.GetInt("compress-threshold"),
	}

	switch pool := viper.GetString("pool"); pool {
	case "node":
	case "puddle":
		config.Pool = bincache.NewPuddlePool
		config.HealthCheckInterval = config.IdleTimeout
	default:
		return bincache.Config{}, fmt.Errorf("unknown pool %q", pool)
	}

	if viper.GetBool("circuit-breaker") {
		config.NewCircuitBreaker = bincache.NewCircuitBreakerConfig(1, time.Minute, 10*time.Second)
	}
	return config, nil
}

// parseServers reads "host:port,unix:/path/to.sock" lists.
func parseServers(list string) ([]bincache.NodeConfig, error) {
	var nodes []bincache.NodeConfig
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if path, ok := strings.CutPrefix(s, "unix:"); ok {
			nodes = append(nodes, bincache.NodeConfig{Network: "unix", Addr: path})
			continue
		}
		nodes = append(nodes, bincache.NodeConfig{Network: "tcp", Addr: s})
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no server in %q", list)
	}
	return nodes, nil
}

// wrapString wraps a help text at wrap columns.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
