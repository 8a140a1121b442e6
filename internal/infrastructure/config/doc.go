// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (GODAIKIN_* and the legacy
//     MQTT_HOST / REFRESH_INTERVAL style names)
//   - Validation of required fields, reporting every problem in one error
//
// Credentials (vendor password, MQTT password, InfluxDB token) should be
// supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("GODAIKIN_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.RefreshInterval())
package config
