package cmd

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/vela/internal/application"
	"github.com/khanhnv2901/vela/internal/shared/constants"
)

const (
	defaultServerAddr      = "127.0.0.1:8080"
	defaultShutdownTimeout = 30 * time.Second
	defaultServerRateLimit = 10
	defaultServerRateBurst = 20
)

// ServeConfig captures the HTTP server settings of `vela serve`.
type ServeConfig struct {
	Addr            string
	AuthToken       string
	CORSOrigins     []string
	TrustedProxies  []string
	RateLimit       int
	RateBurst       int
	ShutdownTimeout time.Duration
}

func setConfigDefaults() {
	viper.SetDefault("data_dir", "data")

	viper.SetDefault("server.addr", defaultServerAddr)
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.trusted_proxies", []string{})
	viper.SetDefault("server.rate_limit", defaultServerRateLimit)
	viper.SetDefault("server.rate_burst", defaultServerRateBurst)
	viper.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("cache.driver", "memory")

	viper.SetDefault("scan.capture_timeout", constants.CaptureTimeout)
	viper.SetDefault("scan.rate_limit.window", constants.RateLimitWindow)
	viper.SetDefault("scan.rate_limit.max", constants.RateLimitMaxRequests)

	viper.SetDefault("browser.driver", "chrome")
	viper.SetDefault("catalog.source", "embedded")
	viper.SetDefault("classifier.public_suffix", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
}

// loadAppConfig maps configuration keys onto the container settings.
func loadAppConfig() application.Config {
	return application.Config{
		DataDir:          viper.GetString("data_dir"),
		StorageDriver:    viper.GetString("storage.driver"),
		StoragePath:      viper.GetString("storage.path"),
		CacheDriver:      viper.GetString("cache.driver"),
		CatalogSource:    viper.GetString("catalog.source"),
		CatalogFile:      viper.GetString("catalog.file"),
		BrowserDriver:    viper.GetString("browser.driver"),
		BrowserRemoteURL: viper.GetString("browser.remote_url"),
		BrowserExecPath:  viper.GetString("browser.exec_path"),
		BrowserNoSandbox: viper.GetBool("browser.no_sandbox"),
		UserAgent:        viper.GetString("browser.user_agent"),
		CaptureTimeout:   viper.GetDuration("scan.capture_timeout"),
		RateLimitWindow:  viper.GetDuration("scan.rate_limit.window"),
		RateLimitMax:     viper.GetInt("scan.rate_limit.max"),
		PublicSuffix:     viper.GetBool("classifier.public_suffix"),
	}
}

// loadServeConfig reads server settings. Flags the user set explicitly win
// over the config file.
func loadServeConfig(flags *pflag.FlagSet) ServeConfig {
	cfg := ServeConfig{
		Addr:            viper.GetString("server.addr"),
		AuthToken:       viper.GetString("server.auth_token"),
		CORSOrigins:     viper.GetStringSlice("server.cors_origins"),
		TrustedProxies:  viper.GetStringSlice("server.trusted_proxies"),
		RateLimit:       viper.GetInt("server.rate_limit"),
		RateBurst:       viper.GetInt("server.rate_burst"),
		ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
	}

	applyStringFlag(flags, "addr", func(v string) { cfg.Addr = v })
	applyStringFlag(flags, "auth-token", func(v string) { cfg.AuthToken = v })
	applyIntFlag(flags, "rate-limit", func(v int) { cfg.RateLimit = v })
	applyIntFlag(flags, "rate-burst", func(v int) { cfg.RateBurst = v })
	if changedFlag(flags, "cors-origins") != nil {
		if v, err := flags.GetStringSlice("cors-origins"); err == nil {
			cfg.CORSOrigins = v
		}
	}
	if changedFlag(flags, "trusted-proxies") != nil {
		if v, err := flags.GetStringSlice("trusted-proxies"); err == nil {
			cfg.TrustedProxies = v
		}
	}
	if changedFlag(flags, "shutdown-timeout") != nil {
		if v, err := flags.GetDuration("shutdown-timeout"); err == nil {
			cfg.ShutdownTimeout = v
		}
	}
	return cfg
}

func changedFlag(flags *pflag.FlagSet, name string) *pflag.Flag {
	if flags == nil {
		return nil
	}
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return nil
	}
	return flag
}

func applyStringFlag(flags *pflag.FlagSet, name string, setter func(string)) {
	if changedFlag(flags, name) == nil || setter == nil {
		return
	}
	if v, err := flags.GetString(name); err == nil {
		setter(v)
	}
}

func applyIntFlag(flags *pflag.FlagSet, name string, setter func(int)) {
	if changedFlag(flags, name) == nil || setter == nil {
		return
	}
	if v, err := flags.GetInt(name); err == nil {
		setter(v)
	}
}
