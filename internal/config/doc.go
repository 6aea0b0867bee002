// Package config loads and validates ferry configuration.
//
// Sources, lowest precedence first:
//   - Default()
//   - a YAML file (ferry.yaml, or the path given to Load)
//   - FERRY_* environment variables, with "." in a key replaced by "_"
//
// Every loaded configuration is checked against an embedded CUE schema
// (schema.cue) and its collection graph is checked for unknown parents and
// cycles. Config.YAML renders the effective configuration back to file form.
package config
