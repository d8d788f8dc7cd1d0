// ABOUTME: Entry point for the coven-assistant chat backend
// ABOUTME: Subcommands to serve the API, write a config, check health, and list threads

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/gateway"
	"github.com/2389/coven-assistant/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __     __ _ ___ ___(_)___| |_ __ _ _ __ | |_
 / __/ _ \ \ / / _ \ '_ \   / _' / __/ __| / __| __/ _' | '_ \| __|
| (_| (_) \ V /  __/ | | | | (_| \__ \__ \ \__ \ || (_| | | | | |_
 \___\___/ \_/ \___|_| |_|  \__,_|___/___/_|___/\__\__,_|_| |_|\__|
`

// getConfigPath returns the path to the assistant config file.
// Priority: COVEN_ASSISTANT_CONFIG env var > XDG_CONFIG_HOME/coven/assistant.yaml > ~/.config/coven/assistant.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "assistant.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "assistant.yaml")
}

// loadConfig reads the config file, falling back to defaults when none exists.
// The bool reports whether a file was read.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-assistant <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the assistant server")
		fmt.Println("  init                  Create a new config file interactively")
		fmt.Println("  health                Check server health")
		fmt.Println("  threads [--user ID]   List a user's threads")
		os.Exit(1)
	}

	// Development secrets live in .env; a missing file is fine
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, getConfigPath())
	case "health":
		err = runHealth(ctx)
	case "threads":
		err = runThreads(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s", configPath)
	if !fromFile {
		yellow.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s", cfg.Agent.Provider)
	if cfg.Agent.Model != "" {
		gray.Printf(" (%s)", cfg.Agent.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	if cfg.Database.InMemory() {
		fmt.Print("Store:    memory")
		gray.Print(" (threads are lost on restart)")
		fmt.Println()
	} else {
		fmt.Printf("Store:    %s\n", cfg.Database.Path)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:  %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting coven-assistant",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Agent.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

// parseUserFlag accepts "--user value", "--user=value", "-u value" and "-u=value".
func parseUserFlag(args []string) (string, error) {
	var userID string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		case strings.HasPrefix(arg, "-u="):
			userID = strings.TrimPrefix(arg, "-u=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return strings.TrimSpace(userID), nil
}

func runThreads(ctx context.Context, args []string) error {
	userID, err := parseUserFlag(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("http://%s/threads", cfg.Server.HTTPAddr)
	if userID != "" {
		endpoint += "?" + url.Values{"user_id": {userID}}.Encode()
	}

	threads, err := fetchThreads(ctx, endpoint)
	if err != nil {
		return err
	}
	printThreads(os.Stdout, threads)
	return nil
}

func fetchThreads(ctx context.Context, endpoint string) ([]store.Thread, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("listing threads: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var threads []store.Thread
	if err := json.NewDecoder(resp.Body).Decode(&threads); err != nil {
		return nil, fmt.Errorf("decoding threads: %w", err)
	}
	return threads, nil
}

func printThreads(w io.Writer, threads []store.Thread) {
	if len(threads) == 0 {
		fmt.Fprintln(w, "no threads")
		return
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	for _, t := range threads {
		cyan.Fprintf(w, "%-36s", t.ID)
		fmt.Fprintf(w, "  %s", t.Title)
		if t.IsPublic {
			color.New(color.FgYellow).Fprint(w, " [shared]")
		}
		gray.Fprintf(w, "  %s\n", t.CreatedAt.Local().Format(time.DateTime))
	}
}

func runInit(in io.Reader, defaultConfigPath string) error {
	reader := bufio.NewReader(in)

	fmt.Println("coven-assistant configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	origins := prompt(reader, "Allowed CORS origins (comma separated)", strings.Join(cfg.Server.CORSAllowedOrigins, ","))
	cfg.Server.CORSAllowedOrigins = splitList(origins)

	fmt.Println("\n--- Storage Configuration ---")
	cfg.Database.Path = prompt(reader, "SQLite database path (:memory: keeps threads in memory)", cfg.Database.Path)

	fmt.Println("\n--- Agent Configuration ---")
	cfg.Agent.Provider = prompt(reader, "Provider (echo/openai/ollama/anthropic)", cfg.Agent.Provider)
	switch cfg.Agent.Provider {
	case config.ProviderOpenAI:
		cfg.Agent.Model = prompt(reader, "Model", "gpt-4o-mini")
		cfg.Agent.APIKey = prompt(reader, "API key", "${OPENAI_API_KEY}")
	case config.ProviderAnthropic:
		cfg.Agent.Model = prompt(reader, "Model", "claude-3-5-haiku-latest")
		cfg.Agent.APIKey = prompt(reader, "API key", "${ANTHROPIC_API_KEY}")
	case config.ProviderOllama:
		cfg.Agent.Model = prompt(reader, "Model", "llama3.2")
		cfg.Agent.BaseURL = prompt(reader, "Server URL", "http://localhost:11434")
	}
	cfg.Agent.SystemPrompt = prompt(reader, "System prompt (optional)", "")

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	header := "# coven-assistant configuration\n# Generated by coven-assistant init\n\n"
	if err := os.WriteFile(outputFile, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if !cfg.Database.InMemory() {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-assistant serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
