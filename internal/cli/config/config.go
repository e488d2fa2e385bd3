package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/cache"
	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
)

const (
	EnvPrefix         = "STACKINGEST"
	DefaultConfigName = "stack-ingest"
)

// flagKeys maps flag names to the configuration keys they override.
// Boolean switches that invert or gate behavior (no-tui, watch) are applied explicitly instead.
var flagKeys = map[string]string{
	"input":                  "input",
	"output":                 "output.path",
	"record-format":          "output.format",
	"output-format":          "outputFormat",
	"hash":                   "hashAlgorithm",
	"ignore":                 "ignore",
	"sink-capacity":          "sinkCapacity",
	"progress-every":         "progressEvery",
	"publish-warn-threshold": "publishWarnThreshold",
	"complete-on-cancel":     "completeOnCancel",
	"rules":                  "classification.rulesFile",
	"cache":                  "cache.enabled",
	"cache-path":             "cache.path",
	"metrics":                "metrics.enabled",
	"metrics-address":        "metrics.address",
	"watch-debounce":         "watch.debounce",
	"verbose":                "verbose",
}

// RegisterFlags defines the command-line flags LoadAndValidate understands.
// --config, --profile and --verbose are persistent flags owned by the root command.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("input", "i", "", "Required. Root directory to ingest.")
	flags.StringP("output", "o", ingest.DefaultRecordOutputPath, `Where to write published records ("-" for stdout)`)
	flags.String("record-format", string(ingest.DefaultRecordFormat), `Record encoding ("jsonl", "msgpack")`)
	flags.String("output-format", string(ingest.DefaultOutputFormat), `Final report format ("text", "json")`)
	flags.String("hash", ingest.DefaultHashAlgorithm, `Digest algorithm ("md5", "sha1", "sha256")`)
	flags.StringArray("ignore", []string{}, "Glob patterns for files/directories to ignore (can be specified multiple times)")
	flags.Int("sink-capacity", ingest.DefaultSinkCapacity, "Number of records buffered before the producer blocks")
	flags.Int("progress-every", ingest.DefaultProgressEvery, "Publish a progress snapshot after this many files (0 disables)")
	flags.String("publish-warn-threshold", ingest.DefaultPublishWarnThresholdString, "Warn when a single publication blocks longer than this")
	flags.Bool("complete-on-cancel", ingest.DefaultCompleteOnCancel, "Complete the record sink even when the run is interrupted")
	flags.String("rules", "", "Path to a YAML classification rules file")
	flags.Bool("cache", ingest.DefaultCacheEnabled, "Reuse digests of unchanged files across runs")
	flags.String("cache-path", "", "Digest cache file (default <input>/"+ingest.DigestCacheFileName+")")
	flags.Bool("metrics", ingest.DefaultMetricsEnabled, "Serve Prometheus metrics while running")
	flags.String("metrics-address", ingest.DefaultMetricsAddress, "Listen address of the metrics endpoint")
	flags.Bool("no-tui", false, "Disable interactive Terminal UI even if in a TTY")
	flags.Bool("watch", false, "Re-run the producer when files under the input change")
	flags.String("watch-debounce", ingest.DefaultWatchDebounceString, "Watch debounce duration string (e.g., '300ms', '1s')")
}

// LoadAndValidate loads configuration from defaults, file, profile, environment
// and flags (in increasing priority), validates it, and sets up the logger.
func LoadAndValidate(cfgFile, profileName, appVersion string, verbose bool, flags *pflag.FlagSet) (ingest.Options, *slog.Logger, error) {
	var opts ingest.Options
	v := viper.New()

	tempLogHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	tempLogger := slog.New(tempLogHandler)

	setDefaults(v)

	// --- Load Config File ---
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			tempLogger.Error("Failed to get user home directory", slog.Any("error", err))
			return opts, tempLogger, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
		v.AddConfigPath(filepath.Join(home, "."+DefaultConfigName))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) && cfgFile == "" {
			tempLogger.Debug("No configuration file found, using defaults/env/flags.")
		} else {
			configFileUsed := cfgFile
			if configFileUsed == "" {
				configFileUsed = fmt.Sprintf("searched locations for %s.yaml", DefaultConfigName)
			}
			tempLogger.Error("Error reading configuration file", slog.String("path", configFileUsed), slog.Any("error", err))
			return opts, tempLogger, fmt.Errorf("error reading config file '%s': %w", configFileUsed, err)
		}
	} else {
		opts.ConfigFilePath = v.ConfigFileUsed()
		tempLogger.Debug("Using configuration file", slog.String("path", opts.ConfigFilePath))
	}

	// --- Apply Profile ---
	opts.ProfileName = profileName
	if profileName != "" {
		profileKey := "profiles." + profileName
		if !v.IsSet(profileKey) {
			configPath := v.ConfigFileUsed()
			if configPath == "" {
				configPath = "(no config file found)"
			}
			err := fmt.Errorf("%w: profile '%s' not found in config file '%s'", ingest.ErrConfigValidation, profileName, configPath)
			tempLogger.Error(err.Error())
			return opts, tempLogger, err
		}
		profileSettings := v.Sub(profileKey)
		if profileSettings == nil {
			err := fmt.Errorf("failed to load profile '%s' settings from config file '%s'", profileName, v.ConfigFileUsed())
			tempLogger.Error(err.Error())
			return opts, tempLogger, err
		}
		if err := v.MergeConfigMap(profileSettings.AllSettings()); err != nil {
			tempLogger.Error("Error merging profile", slog.String("profile", profileName), slog.Any("error", err))
			return opts, tempLogger, fmt.Errorf("error merging profile '%s': %w", profileName, err)
		}
		tempLogger.Debug("Applied configuration profile", slog.String("profile", profileName))
	}

	// --- Bind Environment Variables ---
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Bind Flags (Highest Priority) ---
	for flagName, key := range flagKeys {
		flag := flags.Lookup(flagName)
		if flag == nil {
			tempLogger.Debug("Flag lookup failed during binding", slog.String("flag", flagName))
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			tempLogger.Error("Error binding flag", slog.String("flag", flagName), slog.Any("error", err))
			return opts, tempLogger, fmt.Errorf("error binding flag '--%s': %w", flagName, err)
		}
	}

	opts.AppVersion = appVersion
	if err := v.Unmarshal(&opts); err != nil {
		tempLogger.Error("Error unmarshalling configuration", slog.Any("error", err))
		return opts, tempLogger, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// --- Explicitly Handle Flag Overrides ---
	if flags.Changed("input") {
		if inputVal, _ := flags.GetString("input"); inputVal != "" {
			opts.InputPath = inputVal
		}
	}
	if flags.Changed("verbose") {
		opts.Verbose, _ = flags.GetBool("verbose")
	}
	if verbose {
		opts.Verbose = true
	}
	if flags.Changed("watch") {
		opts.WatchMode, _ = flags.GetBool("watch")
	}
	if flags.Changed("complete-on-cancel") {
		opts.CompleteOnCancel, _ = flags.GetBool("complete-on-cancel")
	}
	if flags.Changed("cache") {
		opts.Cache.Enabled, _ = flags.GetBool("cache")
	}
	if flags.Changed("metrics") {
		opts.Metrics.Enabled, _ = flags.GetBool("metrics")
	}

	// --- Setup Final Logger ---
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logHandler)
	opts.Logger = logHandler

	if err := parseDurations(&opts, logger, flags); err != nil {
		return opts, logger, err
	}
	if err := validateAndDeriveOptions(&opts, logger, flags); err != nil {
		return opts, logger, err
	}

	logger.Debug("Configuration loading and validation complete",
		slog.String("configFile", opts.ConfigFilePath),
		slog.String("profile", opts.ProfileName),
		slog.Bool("verbose", opts.Verbose),
		slog.String("logLevel", logLevel.String()),
	)
	return opts, logger, nil
}

// setDefaults establishes the default values for configuration options in Viper.
func setDefaults(v *viper.Viper) {
	// --- Behavior & Control ---
	v.SetDefault("verbose", ingest.DefaultVerbose)
	v.SetDefault("tuiEnabled", ingest.DefaultTuiEnabled)
	v.SetDefault("completeOnCancel", ingest.DefaultCompleteOnCancel)

	// --- Hashing & Classification ---
	v.SetDefault("hashAlgorithm", ingest.DefaultHashAlgorithm)
	v.SetDefault("ignore", []string{})
	v.SetDefault("classification.rulesFile", "")
	v.SetDefault("classification.extensions", map[string]string{})
	v.SetDefault("classification.disableLanguageFallback", false)

	// --- Flow Control ---
	v.SetDefault("sinkCapacity", ingest.DefaultSinkCapacity)
	v.SetDefault("progressEvery", ingest.DefaultProgressEvery)
	v.SetDefault("publishWarnThreshold", ingest.DefaultPublishWarnThresholdString)

	// --- Caching ---
	v.SetDefault("cache.enabled", ingest.DefaultCacheEnabled)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.format", ingest.DefaultCacheFormat)

	// --- Output ---
	v.SetDefault("output.path", ingest.DefaultRecordOutputPath)
	v.SetDefault("output.format", string(ingest.DefaultRecordFormat))
	v.SetDefault("outputFormat", string(ingest.DefaultOutputFormat))

	// --- Workflow Features ---
	v.SetDefault("watch.debounce", ingest.DefaultWatchDebounceString)
	v.SetDefault("metrics.enabled", ingest.DefaultMetricsEnabled)
	v.SetDefault("metrics.address", ingest.DefaultMetricsAddress)
}

// parseDurations converts the duration strings Viper populated into time.Duration fields.
func parseDurations(opts *ingest.Options, logger *slog.Logger, flags *pflag.FlagSet) error {
	debounce, err := time.ParseDuration(opts.WatchConfig.Debounce)
	if err != nil {
		if flags.Changed("watch-debounce") {
			err = fmt.Errorf("%w: invalid watch debounce duration '%s' specified via flag or config: %w", ingest.ErrConfigValidation, opts.WatchConfig.Debounce, err)
			logger.Error(err.Error(), slog.String("key", "watch.debounce"), slog.String("value", opts.WatchConfig.Debounce))
			return err
		}
		logger.Warn("Could not parse watch.debounce string, using default",
			slog.String("value", opts.WatchConfig.Debounce),
			slog.Duration("default", ingest.DefaultWatchDebounceDuration),
			slog.String("error", err.Error()))
		debounce = ingest.DefaultWatchDebounceDuration
	}
	if debounce < 0 {
		err = fmt.Errorf("%w: invalid negative watch debounce duration '%s' for key 'watch.debounce'", ingest.ErrConfigValidation, opts.WatchConfig.Debounce)
		logger.Error(err.Error(), slog.String("key", "watch.debounce"))
		return err
	}
	opts.WatchDebounce = debounce

	threshold, err := time.ParseDuration(opts.PublishWarnThresholdStr)
	if err != nil || threshold <= 0 {
		err = fmt.Errorf("%w: invalid value '%s' for key 'publishWarnThreshold' (flag --publish-warn-threshold). Must be a positive duration", ingest.ErrConfigValidation, opts.PublishWarnThresholdStr)
		logger.Error(err.Error(), slog.String("key", "publishWarnThreshold"))
		return err
	}
	opts.PublishWarnThreshold = threshold
	return nil
}

// validateAndDeriveOptions performs semantic validation on the populated Options
// and resolves relative paths. Errors wrap ingest.ErrConfigValidation.
func validateAndDeriveOptions(opts *ingest.Options, logger *slog.Logger, flags *pflag.FlagSet) error {
	// === Path Validations ===
	if opts.InputPath == "" {
		err := fmt.Errorf("%w: input path is required (-i, --input)", ingest.ErrConfigValidation)
		logger.Error(err.Error(), slog.String("key", "input"))
		return err
	}
	absInput, err := filepath.Abs(opts.InputPath)
	if err != nil {
		err = fmt.Errorf("%w: cannot resolve absolute input path '%s': %w", ingest.ErrConfigValidation, opts.InputPath, err)
		logger.Error(err.Error(), slog.String("key", "input"))
		return err
	}
	opts.InputPath = absInput
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: input path '%s' does not exist", ingest.ErrConfigValidation, opts.InputPath)
		} else {
			err = fmt.Errorf("%w: cannot access input path '%s': %w", ingest.ErrConfigValidation, opts.InputPath, err)
		}
		logger.Error(err.Error(), slog.String("key", "input"))
		return err
	}
	if !info.IsDir() {
		err = fmt.Errorf("%w: input path '%s' is not a directory", ingest.ErrConfigValidation, opts.InputPath)
		logger.Error(err.Error(), slog.String("key", "input"))
		return err
	}

	if opts.Output.Path == "" {
		opts.Output.Path = ingest.DefaultRecordOutputPath
	}
	if opts.Output.Path != "-" {
		absOutput, err := filepath.Abs(opts.Output.Path)
		if err != nil {
			err = fmt.Errorf("%w: cannot resolve absolute output path '%s': %w", ingest.ErrConfigValidation, opts.Output.Path, err)
			logger.Error(err.Error(), slog.String("key", "output.path"))
			return err
		}
		opts.Output.Path = absOutput
		if mkdirErr := os.MkdirAll(filepath.Dir(absOutput), 0o755); mkdirErr != nil {
			err := fmt.Errorf("%w: cannot create output directory for '%s': %w", ingest.ErrConfigValidation, absOutput, mkdirErr)
			logger.Error(err.Error(), slog.String("key", "output.path"))
			return err
		}
	}

	if opts.Classification.RulesFile != "" {
		absRules, err := filepath.Abs(opts.Classification.RulesFile)
		if err != nil {
			err = fmt.Errorf("%w: cannot resolve rules file path '%s': %w", ingest.ErrConfigValidation, opts.Classification.RulesFile, err)
			logger.Error(err.Error(), slog.String("key", "classification.rulesFile"))
			return err
		}
		rulesInfo, statErr := os.Stat(absRules)
		if statErr != nil || rulesInfo.IsDir() {
			err := fmt.Errorf("%w: rules file '%s' does not exist or is a directory", ingest.ErrConfigValidation, absRules)
			logger.Error(err.Error(), slog.String("key", "classification.rulesFile"))
			return err
		}
		opts.Classification.RulesFile = absRules
	}

	if opts.Cache.Path != "" {
		absCache, err := filepath.Abs(opts.Cache.Path)
		if err != nil {
			err = fmt.Errorf("%w: cannot resolve cache path '%s': %w", ingest.ErrConfigValidation, opts.Cache.Path, err)
			logger.Error(err.Error(), slog.String("key", "cache.path"))
			return err
		}
		opts.Cache.Path = absCache
	}

	// === Enum String Validations ===
	opts.HashAlgorithm = strings.ToLower(strings.TrimSpace(opts.HashAlgorithm))
	allowedAlgorithms := []hashing.Algorithm{hashing.MD5, hashing.SHA1, hashing.SHA256}
	if !isValidEnumValue(hashing.Algorithm(opts.HashAlgorithm), allowedAlgorithms) {
		err := fmt.Errorf("%w: invalid value '%s' for key 'hashAlgorithm' (flag --hash). Allowed: %v", ingest.ErrConfigValidation, opts.HashAlgorithm, allowedAlgorithms)
		logger.Error(err.Error(), slog.String("key", "hashAlgorithm"))
		return err
	}
	allowedOutputFormat := []ingest.OutputFormat{ingest.OutputFormatText, ingest.OutputFormatJSON}
	if !isValidEnumValue(opts.OutputFormat, allowedOutputFormat) {
		err := fmt.Errorf("%w: invalid value '%s' for key 'outputFormat' (flag --output-format). Allowed: %v", ingest.ErrConfigValidation, opts.OutputFormat, allowedOutputFormat)
		logger.Error(err.Error(), slog.String("key", "outputFormat"))
		return err
	}
	allowedRecordFormat := []ingest.RecordFormat{ingest.RecordFormatJSONL, ingest.RecordFormatMsgpack}
	if !isValidEnumValue(opts.Output.Format, allowedRecordFormat) {
		err := fmt.Errorf("%w: invalid value '%s' for key 'output.format' (flag --record-format). Allowed: %v", ingest.ErrConfigValidation, opts.Output.Format, allowedRecordFormat)
		logger.Error(err.Error(), slog.String("key", "output.format"))
		return err
	}
	allowedCacheFormat := []string{cache.FormatGob, cache.FormatJSON}
	if !isValidEnumValue(opts.Cache.Format, allowedCacheFormat) {
		err := fmt.Errorf("%w: invalid value '%s' for key 'cache.format'. Allowed: %v", ingest.ErrConfigValidation, opts.Cache.Format, allowedCacheFormat)
		logger.Error(err.Error(), slog.String("key", "cache.format"))
		return err
	}

	// === Numeric Range Validations ===
	if opts.SinkCapacity < 1 {
		err := fmt.Errorf("%w: invalid value '%d' for key 'sinkCapacity' (flag --sink-capacity). Must be >= 1", ingest.ErrConfigValidation, opts.SinkCapacity)
		logger.Error(err.Error(), slog.String("key", "sinkCapacity"))
		return err
	}
	if opts.ProgressEvery < 0 {
		err := fmt.Errorf("%w: invalid value '%d' for key 'progressEvery' (flag --progress-every). Must be >= 0", ingest.ErrConfigValidation, opts.ProgressEvery)
		logger.Error(err.Error(), slog.String("key", "progressEvery"))
		return err
	}
	if opts.Metrics.Enabled && strings.TrimSpace(opts.Metrics.Address) == "" {
		err := fmt.Errorf("%w: metrics.address is required when metrics are enabled", ingest.ErrConfigValidation)
		logger.Error(err.Error(), slog.String("key", "metrics.address"))
		return err
	}

	// Verbose always disables the TUI.
	if opts.Verbose {
		if opts.TuiEnabled && !flags.Changed("no-tui") {
			logger.Debug("Verbose mode enabled, TUI disabled")
		}
		opts.TuiEnabled = false
	} else if flags.Changed("no-tui") {
		if noTui, _ := flags.GetBool("no-tui"); noTui {
			opts.TuiEnabled = false
		}
	}

	logger.Debug("Final derived settings validated",
		slog.String("input", opts.InputPath),
		slog.String("hashAlgorithm", opts.HashAlgorithm),
		slog.Int("sinkCapacity", opts.SinkCapacity),
		slog.Bool("cacheEnabled", opts.Cache.Enabled),
		slog.String("recordOutput", opts.Output.Path),
		slog.Duration("watchDebounce", opts.WatchDebounce),
		slog.Bool("tuiEnabledEffective", opts.TuiEnabled),
	)
	return nil
}

// isValidEnumValue checks if a given string value is present in a slice of allowed enum values.
// Case-sensitive comparison.
func isValidEnumValue[T ~string](value T, allowedValues []T) bool {
	return slices.Contains(allowedValues, value)
}
