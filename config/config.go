package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultCorpusDir = "corpus"
	defaultTimeout   = 5.0
	defaultHashSize  = 8
)

type AppConfig struct {
	Command    string
	InputPath  string
	OutputPath string
	CorpusDir  string
	Timeout    time.Duration // <= 0 disables the per-invocation timeout
	Debug      bool
	HashSize   int

	LogLevel    string
	ServiceName string
	DatabaseURL string
	RabbitMQURL string
	RedisURL    string
}

type cliOptions struct {
	Command  string   `long:"command" short:"c" env:"SHRINK_COMMAND" description:"Target command, executed through 'sh -c' once per classification"`
	Input    string   `long:"input" short:"i" env:"SHRINK_INPUT" description:"Path the target reads its input from"`
	Output   string   `long:"output" short:"o" env:"SHRINK_OUTPUT" description:"Path the target writes its output artifact to"`
	Corpus   string   `long:"corpus" env:"SHRINK_CORPUS" description:"Corpus root directory (default: corpus)"`
	Timeout  *float64 `long:"timeout" env:"SHRINK_TIMEOUT" description:"Time out target invocations after this many seconds; <= 0 disables (default: 5)"`
	Debug    bool     `long:"debug" env:"SHRINK_DEBUG" description:"Emit (extremely verbose) debug output while shrinking"`
	HashSize *int     `long:"hash-size" env:"SHRINK_HASH_SIZE" description:"Hex width of the output digest used to consider two outputs equal (default: 8)"`
	Profile  string   `long:"profile" env:"SHRINK_PROFILE" description:"YAML target profile supplying defaults for the flags above"`
}

// targetProfile mirrors cliOptions for YAML profiles. Explicit flags win over
// profile values.
type targetProfile struct {
	Command  string   `yaml:"command"`
	Input    string   `yaml:"input"`
	Output   string   `yaml:"output"`
	Corpus   string   `yaml:"corpus"`
	Timeout  *float64 `yaml:"timeout"`
	HashSize *int     `yaml:"hash_size"`
}

func LoadConfig() (*AppConfig, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*AppConfig, error) {
	godotenv.Load()

	var opts cliOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if opts.Profile != "" {
		profile, err := loadProfile(opts.Profile)
		if err != nil {
			return nil, err
		}
		applyProfile(&opts, profile)
	}

	if opts.Corpus == "" {
		opts.Corpus = defaultCorpusDir
	}
	timeout := defaultTimeout
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	hashSize := defaultHashSize
	if opts.HashSize != nil {
		hashSize = *opts.HashSize
	}

	if opts.Command == "" {
		return nil, fmt.Errorf("a target command is required (--command)")
	}
	if opts.Input == "" {
		return nil, fmt.Errorf("a target input path is required (--input)")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("a target output path is required (--output)")
	}
	if hashSize <= 0 {
		return nil, fmt.Errorf("hash-size must be positive, got %d", hashSize)
	}

	corpusDir, err := filepath.Abs(opts.Corpus)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve corpus directory: %w", err)
	}

	cfg := &AppConfig{
		Command:     opts.Command,
		InputPath:   opts.Input,
		OutputPath:  opts.Output,
		CorpusDir:   corpusDir,
		Timeout:     time.Duration(timeout * float64(time.Second)),
		Debug:       opts.Debug,
		HashSize:    hashSize,
		LogLevel:    os.Getenv("LOG_LEVEL"),
		ServiceName: os.Getenv("SERVICE_NAME"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "shrinkfuzz"
	}

	return cfg, nil
}

func loadProfile(path string) (*targetProfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target profile: %w", err)
	}
	var profile targetProfile
	if err := yaml.Unmarshal(content, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse target profile: %w", err)
	}
	return &profile, nil
}

func applyProfile(opts *cliOptions, profile *targetProfile) {
	if opts.Command == "" {
		opts.Command = profile.Command
	}
	if opts.Input == "" {
		opts.Input = profile.Input
	}
	if opts.Output == "" {
		opts.Output = profile.Output
	}
	if opts.Corpus == "" {
		opts.Corpus = profile.Corpus
	}
	if opts.Timeout == nil {
		opts.Timeout = profile.Timeout
	}
	if opts.HashSize == nil {
		opts.HashSize = profile.HashSize
	}
}
