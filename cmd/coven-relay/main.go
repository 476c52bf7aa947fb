// ABOUTME: Entry point for coven-relay, the human-in-the-loop messaging relay
// ABOUTME: Provides serve, token, and health commands

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/relay"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                _
  ___ _____   _____ _ __        _ __ ___| | __ _ _   _
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ |/ _' | | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ | (_| | |_| |
 \___\___/ \_/ \___|_| |_|     |_|  \___|_|\__,_|\__, |
                                                 |___/
`

// defaultTokenTTL is the lifetime of tokens minted without --ttl.
const defaultTokenTTL = 365 * 24 * time.Hour

func usage() {
	fmt.Println("Usage: coven-relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the relay")
	fmt.Println("  token --sub NAME [--ttl DUR]   Mint an API token")
	fmt.Println("  health                         Check relay health")
	fmt.Println("  version                        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath, err := config.DefaultPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	printSummary(cfg, configPath)

	logger.Info("starting coven-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Backend,
		"queue", cfg.Queue.Backend,
	)

	r, err := relay.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	return r.Run(ctx)
}

func printSummary(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	feature := func(label string, enabled bool, detail string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", label+":")
		if enabled {
			fmt.Print(detail)
		} else {
			gray.Print("disabled")
		}
		fmt.Println()
	}

	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Storage", cfg.Storage.Backend)
	line("Queue", cfg.Queue.Backend+" "+cfg.Queue.Dir)
	line("Channel", cfg.Channel.BaseURL)
	line("Model", cfg.Completion.Model)
	feature("Whisper", cfg.Transcription.Enabled, cfg.Transcription.Model)
	feature("Speech", cfg.Speech.Enabled, cfg.Speech.VoiceID)
	feature("Matrix", cfg.Operator.Matrix.Enabled, cfg.Operator.Matrix.RoomID)
	feature("Metrics", cfg.Metrics.Enabled, cfg.Metrics.Path)

	if cfg.Auth.JWTSecret == "" {
		green.Print("    ▶ ")
		yellow.Println("Auth:      disabled (no auth.jwt_secret)")
	}
	fmt.Println()
}

// tokenArgs holds the parsed flags of the token command.
type tokenArgs struct {
	subject string
	ttl     time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" formats.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		var err error
		switch {
		case arg == "--sub":
			out.subject, err = value(&i, "--sub")
		case strings.HasPrefix(arg, "--sub="):
			out.subject = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			raw, err = value(&i, "--ttl")
		case strings.HasPrefix(arg, "--ttl="):
			raw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return tokenArgs{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			return tokenArgs{}, fmt.Errorf("unexpected argument: %s", arg)
		}
		if err != nil {
			return tokenArgs{}, err
		}
		if raw != "" {
			out.ttl, err = time.ParseDuration(raw)
			if err != nil {
				return tokenArgs{}, fmt.Errorf("parsing --ttl: %w", err)
			}
			if out.ttl <= 0 {
				return tokenArgs{}, errors.New("--ttl must be positive")
			}
		}
	}

	out.subject = strings.TrimSpace(out.subject)
	if out.subject == "" {
		return tokenArgs{}, errors.New("--sub flag is required")
	}
	return out, nil
}

func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(parsed.subject, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
