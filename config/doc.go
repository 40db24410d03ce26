// Package config loads the notifier configuration.
//
// Values are layered: struct defaults, then any number of YAML or JSON
// files in the order added, then DELTA_-prefixed environment variables
// (DELTA_SERVER_ADDR sets server.addr). The environment names understood
// by earlier releases (LOG_REQUESTS, DEBUG_DELTA_MATCH, ...) are honoured
// as well. The merged result is validated with struct tags.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/config/notifier.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
package config
