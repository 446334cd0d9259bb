// Package config handles loading and validating the auth core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading an optional .env file
//   - Overriding with environment variables
//   - Validation of required fields
//
// Auth providers and MFA modules are listed under auth.providers and
// auth.mfa_modules. Each entry keeps its plugin-specific keys in
// PluginConfig.Options; the plugin decodes and validates them itself.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
