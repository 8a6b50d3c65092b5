package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config captures all options required to run a batch conversion.
type Config struct {
	SourceDir string

	// Destination. Exactly one of these is selected.
	OutDir   string
	MboxPath string
	S3Bucket string
	S3Prefix string
	S3Region string
	IMAPHost string

	// Static S3 credentials, settable only through the config file.
	// Empty means the SDK default chain.
	S3AccessKey string
	S3SecretKey string

	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string

	Workers  int
	DryRun   bool
	StateDir string
	StateDB  string

	Include []string
	Exclude []string

	LogLevel string
	LogFile  string
}

// fileConfig mirrors the optional YAML configuration file. File values
// act as defaults; explicitly set flags win.
type fileConfig struct {
	SourceDir string `yaml:"source_dir"`
	OutDir    string `yaml:"out_dir"`
	Mbox      string `yaml:"mbox"`
	S3        struct {
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"s3"`
	IMAP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		User               string `yaml:"user"`
		Folder             string `yaml:"folder"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"imap"`
	Workers  int      `yaml:"workers"`
	StateDir string   `yaml:"state_dir"`
	StateDB  string   `yaml:"state_db"`
	Include  []string `yaml:"include"`
	Exclude  []string `yaml:"exclude"`
}

// RegisterLogFlags attaches the logging flags shared by every command.
func RegisterLogFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-file", "", "Also append logs to this file")
}

// RegisterFlags attaches the batch conversion flags to the command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to an optional YAML config file providing defaults")
	flags.String("source-dir", "", "Directory scanned recursively for .oft/.msg files")
	flags.String("out-dir", "", "Write one .eml file per message into this directory")
	flags.String("mbox", "", "Append all converted messages to this mbox file")
	flags.String("s3-bucket", "", "Upload converted messages to this S3 bucket")
	flags.String("s3-prefix", "", "Key prefix for S3 uploads")
	flags.String("s3-region", "", "AWS region for S3 uploads (falls back to the SDK default chain)")
	flags.String("imap-host", "", "Append converted messages to an IMAP folder on this server")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "INBOX", "Target IMAP folder for converted mail")
	flags.Int("workers", 4, "Number of parallel conversion workers")
	flags.Bool("dry-run", false, "Convert and emit stats without storing anything")
	flags.String("state-dir", defaultStateDir, "Directory for incremental conversion state files")
	flags.String("state-db", "", "SQLite database for conversion state (instead of --state-dir)")
	flags.StringArray("include", nil, "Regex allow-list applied to headers and bodies (mutually exclusive with --exclude)")
	flags.StringArray("exclude", nil, "Regex block-list applied to headers and bodies (mutually exclusive with --include)")

	return cmd.MarkFlagRequired("source-dir")
}

// LoadConfig resolves flags, the optional YAML file and the environment
// into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	sourceDir, err := flags.GetString("source-dir")
	if err != nil {
		return Config{}, err
	}
	outDir, err := flags.GetString("out-dir")
	if err != nil {
		return Config{}, err
	}
	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	s3Bucket, err := flags.GetString("s3-bucket")
	if err != nil {
		return Config{}, err
	}
	s3Prefix, err := flags.GetString("s3-prefix")
	if err != nil {
		return Config{}, err
	}
	s3Region, err := flags.GetString("s3-region")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	targetFolder, err := flags.GetString("target-folder")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	stateDB, err := flags.GetString("state-db")
	if err != nil {
		return Config{}, err
	}
	include, err := flags.GetStringArray("include")
	if err != nil {
		return Config{}, err
	}
	exclude, err := flags.GetStringArray("exclude")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logFile, err := flags.GetString("log-file")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SourceDir:          sourceDir,
		OutDir:             outDir,
		MboxPath:           mboxPath,
		S3Bucket:           s3Bucket,
		S3Prefix:           s3Prefix,
		S3Region:           s3Region,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		TargetFolder:       targetFolder,
		Workers:            workers,
		DryRun:             dryRun,
		StateDir:           stateDir,
		StateDB:            stateDB,
		Include:            include,
		Exclude:            exclude,
		LogLevel:           strings.ToLower(logLevel),
		LogFile:            logFile,
	}

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if configPath != "" {
		fileCfg, err := loadFile(configPath)
		if err != nil {
			return Config{}, err
		}
		mergeFile(&cfg, fileCfg, flags)
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	}
	if cfg.StateDB != "" && flags.Changed("state-dir") {
		return Config{}, fmt.Errorf("--state-dir and --state-db are mutually exclusive")
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var fileCfg fileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file: %w", err)
	}
	return fileCfg, nil
}

// mergeFile overlays file values onto flags the user did not set.
func mergeFile(cfg *Config, file fileConfig, flags *pflag.FlagSet) {
	setString := func(flag string, dst *string, val string) {
		if val != "" && !flags.Changed(flag) {
			*dst = val
		}
	}
	setInt := func(flag string, dst *int, val int) {
		if val != 0 && !flags.Changed(flag) {
			*dst = val
		}
	}

	setString("source-dir", &cfg.SourceDir, file.SourceDir)
	setString("out-dir", &cfg.OutDir, file.OutDir)
	setString("mbox", &cfg.MboxPath, file.Mbox)
	setString("s3-bucket", &cfg.S3Bucket, file.S3.Bucket)
	setString("s3-prefix", &cfg.S3Prefix, file.S3.Prefix)
	setString("s3-region", &cfg.S3Region, file.S3.Region)
	// No flag equivalents: secrets stay out of argv.
	cfg.S3AccessKey = file.S3.AccessKey
	cfg.S3SecretKey = file.S3.SecretKey
	setString("imap-host", &cfg.IMAPHost, file.IMAP.Host)
	setInt("imap-port", &cfg.IMAPPort, file.IMAP.Port)
	setString("imap-user", &cfg.IMAPUser, file.IMAP.User)
	setString("target-folder", &cfg.TargetFolder, file.IMAP.Folder)
	setInt("workers", &cfg.Workers, file.Workers)
	setString("state-dir", &cfg.StateDir, file.StateDir)
	setString("state-db", &cfg.StateDB, file.StateDB)
	if file.IMAP.InsecureSkipVerify && !flags.Changed("insecure-skip-verify") {
		cfg.InsecureSkipVerify = true
	}
	if len(file.Include) > 0 && !flags.Changed("include") {
		cfg.Include = file.Include
	}
	if len(file.Exclude) > 0 && !flags.Changed("exclude") {
		cfg.Exclude = file.Exclude
	}
}

func validateConfig(cfg Config) error {
	if cfg.SourceDir == "" {
		return fmt.Errorf("--source-dir is required")
	}

	sinks := 0
	for _, selected := range []bool{
		cfg.OutDir != "",
		cfg.MboxPath != "",
		cfg.S3Bucket != "",
		cfg.IMAPHost != "",
	} {
		if selected {
			sinks++
		}
	}
	if sinks == 0 {
		return fmt.Errorf("a destination is required: one of --out-dir, --mbox, --s3-bucket or --imap-host")
	}
	if sinks > 1 {
		return fmt.Errorf("destinations are mutually exclusive: pick one of --out-dir, --mbox, --s3-bucket or --imap-host")
	}

	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if len(cfg.Include) > 0 && len(cfg.Exclude) > 0 {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".oft-to-eml", "state"), nil
}
