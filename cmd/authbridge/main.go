package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/authbridge/internal"
	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/envutil"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/joho/godotenv"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version":       config.SupportedVersion,
		"addr":          config.DefaultAddr,
		"clientOrigin":  "https://app.yourcompany.com",
		"sessionSecret": map[string]string{"$env": "SESSION_SECRET"},
		"sessionTtl":    "720h",
		"storage": map[string]any{
			"kind": "memory",
		},
		"federated": map[string]any{
			"clientId":      "https://app.yourcompany.com/oauth-client-metadata.json",
			"slingshotHost": config.DefaultSlingshotHost,
			"cdnHost":       config.DefaultCDNHost,
			"scope":         config.DefaultFederatedScope,
		},
		"classic": map[string]any{
			"clientId":     map[string]string{"$env": "GITHUB_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "GITHUB_CLIENT_SECRET"},
			"scope":        config.DefaultClassicScope,
		},
		"allowedOrigins": []string{"https://app.yourcompany.com"},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if envutil.IsDev() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.LogWarn("Failed to load .env: %v", err)
		}
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting authbridge", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewApp(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to create authbridge: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
