// ABOUTME: Entry point for the support-gateway conversation server
// ABOUTME: Serves the HTTP API and mints widget, agent and admin tokens

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/config"
	"github.com/2389/support-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                  _                     _
 ___ _   _ _ __  _ __   ___  _ __| |_      __ _ __ _| |_ _____      ____ _ _   _
/ __| | | | '_ \| '_ \ / _ \| '__| __|___ / _' / _' | __/ _ \ \ /\ / / _' | | | |
\__ \ |_| | |_) | |_) | (_) | |  | ||___| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|___/\__,_| .__/| .__/ \___/|_|   \__|   \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
          |_|   |_|                      |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: SUPPORT_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/support-gateway/config.yaml > ~/.config/support-gateway/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SUPPORT_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "support-gateway", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/support-gateway > ~/.local/share/support-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "support-gateway")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: support-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                          Start the gateway server")
	fmt.Fprintln(w, "  init                           Create a new config file interactively")
	fmt.Fprintln(w, "  token --org ORG [--sub ID]     Mint an API token")
	fmt.Fprintln(w, "        [--role widget|agent|admin] [--name NAME] [--ttl 24h]")
	fmt.Fprintln(w, "  health                         Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	// A .env next to the binary may carry secrets referenced as ${VAR}.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
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

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s", cfg.Assistant.Provider)
	if cfg.Assistant.Model != "" {
		gray.Printf(" (%s)", cfg.Assistant.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Presence:  %s\n", cfg.Presence.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting support-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Assistant.Provider,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// tokenArgs are the parsed flags of the token command.
type tokenArgs struct {
	org     string
	subject string
	name    string
	role    auth.Role
	ttl     time.Duration
}

// parseTokenArgs accepts both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (*tokenArgs, error) {
	out := &tokenArgs{role: auth.RoleAgent, ttl: 24 * time.Hour}

	values := map[string]*string{}
	var org, sub, name, role, ttl string
	values["--org"] = &org
	values["--sub"] = &sub
	values["--name"] = &name
	values["--role"] = &role
	values["--ttl"] = &ttl

	for i := 0; i < len(args); i++ {
		arg := args[i]
		key, val, hasValue := strings.Cut(arg, "=")
		dst, ok := values[key]
		if !ok {
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("unknown flag: %s", key)
			}
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", key)
			}
			val = args[i+1]
			i++
		}
		*dst = strings.TrimSpace(val)
	}

	if org == "" {
		return nil, fmt.Errorf("--org flag is required")
	}
	out.org = org

	if role != "" {
		out.role = auth.Role(role)
	}
	switch out.role {
	case auth.RoleWidget, auth.RoleAgent, auth.RoleAdmin:
	default:
		return nil, fmt.Errorf("--role must be widget, agent or admin, got %q", role)
	}

	if ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("--ttl must be a positive duration, got %q", ttl)
		}
		out.ttl = d
	}

	out.subject = sub
	if out.subject == "" {
		if out.role == auth.RoleWidget {
			return nil, fmt.Errorf("--sub (the session id) is required for widget tokens")
		}
		out.subject = string(out.role)
	}
	out.name = name
	if out.name == "" {
		out.name = out.subject
	}
	return out, nil
}

// runToken mints a bearer token signed with the configured secret.
func runToken(args []string, w io.Writer) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return mintToken(cfg, parsed, w)
}

func mintToken(cfg *config.Config, args *tokenArgs, w io.Writer) error {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(auth.Claims{
		OrgID:   args.org,
		Subject: args.subject,
		Name:    args.name,
		Role:    args.role,
	}, args.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

// runHealth asks the running gateway for readiness, which includes a store ping.
func runHealth(ctx context.Context, w io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return checkHealth(ctx, "http://"+cfg.Server.HTTPAddr, w)
}

func checkHealth(ctx context.Context, baseURL string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(w, "healthy")
	return nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "support-gateway configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "support.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", "localhost:8080")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", defaultDbPath)

	fmt.Fprintln(out, "\n--- Assistant Configuration ---")
	provider := prompt(reader, out, "Provider (none/echo/gemini/openai/ollama)", "none")
	var model string
	if provider != "none" && provider != "echo" {
		model = prompt(reader, out, "Model", "")
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, out, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, out, "Tailscale hostname", "support-gateway")
		tsFunnel = yes(prompt(reader, out, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# support-gateway configuration\n")
	cfg.WriteString("# Generated by support-gateway init\n\n")
	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)
	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)
	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", base64.StdEncoding.EncodeToString(secret))
	cfg.WriteString("assistant:\n")
	fmt.Fprintf(&cfg, "  provider: %q\n", provider)
	if model != "" {
		fmt.Fprintf(&cfg, "  model: %q\n", model)
	}
	if provider == "gemini" || provider == "openai" {
		cfg.WriteString("  api_key: \"${ASSISTANT_API_KEY}\"\n")
	}
	cfg.WriteString("\n")
	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")
	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  support-gateway serve")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}
