// Package config handles loading and validating knxlog configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with KNXLOG_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Credentials (MySQL DSN, MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	loc := cfg.Location()
package config
