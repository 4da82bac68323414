package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"southwinds.dev/keycache/audit"
	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

// defaultConfig is the nested layout written by config init
func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"passphrase_timeout": map[string]interface{}{
			"enabled":          false,
			"interval_minutes": misc.DefaultTimeoutMinutes,
		},
		"log": map[string]interface{}{
			"level": "info",
		},
		"cache": map[string]interface{}{
			"lock_memory":       true,
			"subscriber_buffer": misc.DefaultSubscriberBuffer,
		},
		"metrics": map[string]interface{}{
			"address": "",
		},
		"audit": map[string]interface{}{
			"enabled":   false,
			"type":      "file",
			"log_level": "info",
			"options": map[string]interface{}{
				"file_path":  "keycache-audit.log",
				"cache_size": 1000,
			},
		},
	}
}

// validateConfiguration returns one message per invalid setting
func validateConfiguration(v *viper.Viper) []string {
	var problems []string

	if v.GetBool(settings.KeyTimeoutEnabled) && v.GetInt(settings.KeyTimeoutMinutes) <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be greater than zero when the timeout is enabled",
			settings.KeyTimeoutMinutes))
	}
	if v.GetString("cache.permission") == "" {
		problems = append(problems, "cache.permission cannot be empty")
	}
	if v.GetInt("cache.subscriber_buffer") <= 0 {
		problems = append(problems, "cache.subscriber_buffer must be greater than zero")
	}

	switch level := strings.ToLower(v.GetString("log.level")); level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not a valid level", level))
	}

	if v.GetBool("audit.enabled") {
		switch audit.ConfigType(v.GetString("audit.type")) {
		case audit.FileAuditType:
			if v.GetString("audit.options.file_path") == "" {
				problems = append(problems, "audit.options.file_path is required for the file audit logger")
			}
		case audit.SyslogAuditType:
		default:
			problems = append(problems, fmt.Sprintf("audit.type %q is not supported (file, syslog)",
				v.GetString("audit.type")))
		}
	}

	return problems
}

func validateConfigValue(key string, value interface{}) error {
	switch key {
	case settings.KeyTimeoutEnabled, "cache.lock_memory", "audit.enabled":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be true or false", key)
		}
	case settings.KeyTimeoutMinutes, "cache.subscriber_buffer", "audit.options.cache_size":
		n, ok := value.(int)
		if !ok || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
	}
	return nil
}

func convertStringValue(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		return b
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && strings.Contains(value, ".") {
		return f
	}
	return value
}

func flattenKeys(m map[string]interface{}, prefix string, keys *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenKeys(nested, key, keys)
		} else {
			*keys = append(*keys, key)
		}
	}
}

func maskSensitiveValues(config map[string]interface{}) {
	for k, v := range config {
		if nested, ok := v.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
		} else if isSensitiveFlag(k) {
			config[k] = "[REDACTED]"
		}
	}
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
