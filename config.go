/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Seednode/buzzbox/session"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"

	broadcastLocal = "local"
	broadcastRedis = "redis"
	broadcastNATS  = "nats"
)

type Config struct {
	bind             string
	broadcast        string
	clientTimeout    time.Duration
	corsOrigins      []string
	idLength         int
	lockWait         time.Duration
	logFile          string
	natsURL          string
	port             int
	prefix           string
	profile          bool
	redisAddr        string
	redisDB          int
	redisPassword    string
	sessionTTL       time.Duration
	store            string
	subscriberBuffer int
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if !slices.Contains([]string{storeMemory, storeRedis}, c.store) {
		return fmt.Errorf("invalid store (must be one of memory, redis): %q", c.store)
	}
	if !slices.Contains([]string{broadcastLocal, broadcastRedis, broadcastNATS}, c.broadcast) {
		return fmt.Errorf("invalid broadcast (must be one of local, redis, nats): %q", c.broadcast)
	}
	if (c.store == storeRedis || c.broadcast == broadcastRedis) && c.redisAddr == "" {
		return errors.New("--redis-addr is required when using the redis store or broadcast")
	}
	if c.broadcast == broadcastNATS && c.natsURL == "" {
		return errors.New("--nats-url is required when using the nats broadcast")
	}
	if c.sessionTTL <= 0 {
		return fmt.Errorf("invalid session ttl (must be positive): %s", c.sessionTTL)
	}
	if c.lockWait <= 0 {
		return fmt.Errorf("invalid lock wait (must be positive): %s", c.lockWait)
	}
	if c.clientTimeout <= 0 {
		return fmt.Errorf("invalid client timeout (must be positive): %s", c.clientTimeout)
	}
	if c.idLength < 4 || c.idLength > 32 {
		return fmt.Errorf("invalid id length (must be between 4-32 inclusive): %d", c.idLength)
	}
	if c.subscriberBuffer < 1 {
		return fmt.Errorf("invalid subscriber buffer (must be at least 1): %d", c.subscriberBuffer)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BUZZBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "buzzbox",
		Short:         "A live quiz buzzer: the first press sets the clock, everyone sees the ranking.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BUZZBOX_BIND)")
	fs.StringVar(&cfg.broadcast, "broadcast", broadcastLocal, "event fan-out backend: local, redis or nats (env: BUZZBOX_BROADCAST)")
	fs.DurationVar(&cfg.clientTimeout, "client-timeout", time.Minute, "time before silent websocket clients are disconnected (env: BUZZBOX_CLIENT_TIMEOUT)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", nil, "origins allowed to call the JSON API cross-origin (env: BUZZBOX_CORS_ORIGINS)")
	fs.IntVar(&cfg.idLength, "id-length", session.DefaultIDLength, "length of generated session ids (env: BUZZBOX_ID_LENGTH)")
	fs.DurationVar(&cfg.lockWait, "lock-wait", session.DefaultLockWait, "how long a command waits for a busy session (env: BUZZBOX_LOCK_WAIT)")
	fs.StringVar(&cfg.logFile, "log-file", "", "also write logs to this file, rotated by size (env: BUZZBOX_LOG_FILE)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "NATS server url for the nats broadcast (env: BUZZBOX_NATS_URL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BUZZBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BUZZBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BUZZBOX_PROFILE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "Redis address for the redis store or broadcast (env: BUZZBOX_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "Redis database number (env: BUZZBOX_REDIS_DB)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "Redis password (env: BUZZBOX_REDIS_PASSWORD)")
	fs.DurationVar(&cfg.sessionTTL, "session-ttl", session.DefaultTTL, "time before untouched sessions expire (env: BUZZBOX_SESSION_TTL)")
	fs.StringVar(&cfg.store, "store", storeMemory, "session store backend: memory or redis (env: BUZZBOX_STORE)")
	fs.IntVar(&cfg.subscriberBuffer, "subscriber-buffer", 32, "events buffered per websocket client before it is dropped (env: BUZZBOX_SUBSCRIBER_BUFFER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BUZZBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BUZZBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BUZZBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BUZZBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("buzzbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
