// Package config provides configuration loading and validation for the capture service.
// Defaults are applied first and the YAML file overrides them, so a file only
// needs the keys it changes.
package config
