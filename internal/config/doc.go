// Package config provides YAML-based configuration loading and validation
// for the transcription service. Provider API keys are sourced from the
// environment only and are never read from or written to the config file.
package config
