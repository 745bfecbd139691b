// ABOUTME: serve and init subcommands for running and configuring the gateway
// ABOUTME: Prints the startup banner and writes an interactive YAML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/gateway"
)

const banner = `
                  _
  _ __   __ _ _ __| | ___ _   _
 | '_ \ / _' | '__| |/ _ \ | | |
 | |_) | (_| | |  | |  __/ |_| |
 | .__/ \__,_|_|  |_|\___|\__, |
 |_|                      |___/
`

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	configPath := flags.configPath

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration; a missing file means defaults plus environment
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  %s (%s)\n", cfg.Provider.Kind, cfg.Provider.Model)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Database.Path)

	// Tailscale status
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

	logger.Info("starting parley",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Provider.Kind,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), flags.configPath)
		},
	}
}

// initAnswers holds what runInit asked for.
type initAnswers struct {
	httpAddr    string
	kind        string
	model       string
	apiKey      string
	baseURL     string
	dbPath      string
	tailscale   bool
	tsHostname  string
	tsAuthKey   string
	tsEphemeral bool
	tsFunnel    bool
	logLevel    string
	logFormat   string
}

func runInit(reader *bufio.Reader, out io.Writer, defaultConfigPath string) error {
	fmt.Fprintln(out, "parley configuration setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "usage.db")

	outputFile := prompt(reader, out, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, out, "HTTP address", "localhost:3000")

	fmt.Fprintln(out, "\n--- Provider Configuration ---")
	a.kind = prompt(reader, out, "Provider (openai/anthropic/echo)", config.ProviderOpenAI)
	switch a.kind {
	case config.ProviderOpenAI:
		a.model = prompt(reader, out, "Model", "gpt-4o-mini")
		a.apiKey = prompt(reader, out, "API key", "${OPENAI_API_KEY}")
		a.baseURL = prompt(reader, out, "Base URL (empty for api.openai.com)", "")
	case config.ProviderAnthropic:
		a.model = prompt(reader, out, "Model", "claude-3-5-haiku-latest")
		a.apiKey = prompt(reader, out, "API key", "${ANTHROPIC_API_KEY}")
	}

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	a.dbPath = prompt(reader, out, "Usage ledger path (:memory: to disable persistence)", defaultDbPath)

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	a.tailscale = isYes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.tailscale {
		a.tsHostname = prompt(reader, out, "Tailscale hostname", "parley")
		a.tsAuthKey = prompt(reader, out, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		a.tsEphemeral = isYes(prompt(reader, out, "Ephemeral node?", "no"))
		a.tsFunnel = isYes(prompt(reader, out, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.logLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, out, "Log format (text/json)", "text")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may hold an API key
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  parley serve")

	return nil
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# parley configuration\n")
	cfg.WriteString("# Generated by parley init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("provider:\n")
	cfg.WriteString(fmt.Sprintf("  kind: %q\n", a.kind))
	if a.model != "" {
		cfg.WriteString(fmt.Sprintf("  model: %q\n", a.model))
	}
	if a.apiKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: %q\n", a.apiKey))
	}
	if a.baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", a.baseURL))
	}
	cfg.WriteString("  timeout: \"2m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  max_turns: 20\n")
	cfg.WriteString("  keep_turns: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.tailscale))
	if a.tailscale {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.tsHostname))
		if a.tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.logFormat))

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
