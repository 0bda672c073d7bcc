package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolify/toolify/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Toolify proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for upstream service details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("Toolify Configuration Setup")
	color.Yellow("Follow the prompts to configure your first upstream service.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nUpstream service name (e.g., openai-primary): ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	fmt.Print("Service type (openai, anthropic, gemini): ")
	serviceType, _ := reader.ReadString('\n')
	serviceType = strings.TrimSpace(serviceType)

	fmt.Print("API Key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("API Base URL: ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Default Model: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("Client API key clients must present (optional): ")
	clientKey, _ := reader.ReadString('\n')
	clientKey = strings.TrimSpace(clientKey)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: config.DefaultHost,
			Port: config.DefaultPort,
		},
		UpstreamServices: []config.UpstreamService{
			{
				Name:        name,
				ServiceType: serviceType,
				BaseURL:     baseURL,
				APIKey:      apiKey,
				Priority:    100,
				Models:      []string{model},
			},
		},
	}
	if clientKey != "" {
		cfg.ClientAuth.AllowedKeys = []string{clientKey}
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: toolify serve")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'toolify config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Server.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Server.Port)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nUpstream Services:")
	for _, svc := range cfg.UpstreamServices {
		fmt.Printf("  - Name: %s\n", svc.Name)
		fmt.Printf("    Type: %s\n", svc.ServiceType)
		fmt.Printf("    Base URL: %s\n", svc.BaseURL)
		fmt.Printf("    API Key: %s\n", maskString(svc.APIKey))
		fmt.Printf("    Priority: %d\n", svc.Priority)
		fmt.Printf("    Models: %v\n", svc.Models)
		fmt.Println()
	}

	fmt.Println("Features:")
	fmt.Printf("  %-25s: %v\n", "Inject Function Calling", cfg.Features.InjectFunctionCalling)
	fmt.Printf("  %-25s: %v\n", "Optimize Prompt", cfg.Features.OptimizePrompt)
	if cfg.Features.LongContextModel != "" {
		fmt.Printf("  %-25s: %s\n", "Long Context Model", cfg.Features.LongContextModel)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %s\n", err)
		return fmt.Errorf("configuration validation failed")
	}

	if len(cfg.UpstreamServices) == 0 {
		color.Yellow("Warning: no upstream services configured")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
