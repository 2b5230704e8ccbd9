// Package config loads and validates the integration core configuration.
//
// Values come from built-in defaults, then a YAML file, then GRAYLOGIC_*
// environment variables. Validate reports every problem in one error so a
// bad file can be fixed in a single pass.
//
// Credentials (MQTT password, Redis password, InfluxDB token) belong in the
// environment, not the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID, d.Category, d.Backend)
//	}
package config
