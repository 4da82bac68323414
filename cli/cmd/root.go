package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/keycache/audit"
	"southwinds.dev/keycache/internal/logging"
	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keycache",
	Short: "An in-memory master key cache with inactivity expiry",
	Long: `keycache holds a decrypted master key in locked memory while the host
application is in use and wipes it once the application has been idle longer
than the configured passphrase timeout, or when asked to.

Key changes and expiries are announced on a permissioned event channel.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Configure(viper.GetString("log.level"), nil)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", formatError(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.keycache.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("instance", "", "instance name recorded in audit events")

	bindFlagOrPanic("log.level", "log-level")
	bindFlagOrPanic("instance", "instance")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/keycache")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".keycache")
	}

	viper.SetEnvPrefix("KEYCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// no config file is fine, defaults and env vars apply
	} else {
		logging.L.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setDefaults(v *viper.Viper) {
	settings.SetDefaults(v)

	v.SetDefault("instance", getHostname())
	v.SetDefault("log.level", "info")

	v.SetDefault("cache.permission", misc.DefaultPermission)
	v.SetDefault("cache.lock_memory", true)
	v.SetDefault("cache.subscriber_buffer", misc.DefaultSubscriberBuffer)

	v.SetDefault("metrics.address", "")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.type", "file")
	v.SetDefault("audit.log_level", "info")
	v.SetDefault("audit.options.file_path", "keycache-audit.log")
	v.SetDefault("audit.options.cache_size", 1000)
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(auditConfig())
}

func auditConfig() *audit.Config {
	return &audit.Config{
		Enabled:  viper.GetBool("audit.enabled"),
		Instance: viper.GetString("instance"),
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path":  viper.GetString("audit.options.file_path"),
			"cache_size": viper.GetInt("audit.options.cache_size"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	}
}

// isSensitiveFlag reports whether a flag or config key may carry a secret
func isSensitiveFlag(name string) bool {
	sensitive := []string{"password", "secret", "token", "permission"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// getHostname returns "unknown_host" if the hostname cannot be determined
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown_host"
	}
	return hostname
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string
	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	message := messages[0]
	if len(messages) > 1 {
		last := messages[len(messages)-1]
		if last != message && !strings.HasSuffix(message, last) {
			message = fmt.Sprintf("%s (caused by: %s)", message, last)
		}
	}

	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}

	return fmt.Sprintf("Error: %s", message)
}

// changedFlags lists flags set on the command line, redacting sensitive values
func changedFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	})
	return flags
}
