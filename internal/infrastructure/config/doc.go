// Package config handles loading and validating Seedgate Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SEEDGATE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The token signing secret should be set via SEEDGATE_AUTH_SECRET
//   - The config file should have restricted permissions (0600)
//   - Initial admin credentials are only read at startup and never logged
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Settings.Path)
package config
