package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/khanhnv2901/vela/internal/application"
)

const envPrefix = "VELA"

var cfgFile string

// AppContext carries what every subcommand needs: the logger, the resolved
// configuration and, once built, the service container.
type AppContext struct {
	Logger *zap.Logger
	Config application.Config

	mu       sync.Mutex
	services *application.Container
}

// Services builds the container on first use
func (a *AppContext) Services() (*application.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.services != nil {
		return a.services, nil
	}
	services, err := application.NewContainer(a.Config, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	a.services = services
	return services, nil
}

// Close releases the container if one was built
func (a *AppContext) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.services == nil {
		return nil
	}
	err := a.services.Close()
	a.services = nil
	return err
}

type appContextKey struct{}

var globalAppContext *AppContext

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appContextKey{}, appCtx))
}

func getAppContext(cmd *cobra.Command) *AppContext {
	if cmd != nil && cmd.Context() != nil {
		if appCtx, ok := cmd.Context().Value(appContextKey{}).(*AppContext); ok {
			return appCtx
		}
	}
	return globalAppContext
}

var rootCmd = &cobra.Command{
	Use:           "vela",
	Short:         "Audit the third-party scripts a web page loads",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		logger, err := newLogger(viper.GetString("log.level"), viper.GetBool("log.development"))
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		appCtx := &AppContext{
			Logger: logger,
			Config: loadAppConfig(),
		}
		storeAppContext(cmd, appCtx)

		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("config_loaded", zap.String("file", used))
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		if appCtx == nil {
			return nil
		}
		_ = appCtx.Logger.Sync()
		return appCtx.Close()
	},
}

// initConfig reads the config file and environment. A missing default config
// file is not an error; an explicit --config that cannot be read is.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
		viper.SetConfigName(".vela")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setConfigDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	// config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vela.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the database and scan files")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(versionCmd)
}
