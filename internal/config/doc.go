// Package config loads weft-backend configuration from YAML files.
//
// Environment variables in ${VAR_NAME} form are expanded before parsing,
// and duration fields accept Go duration strings ("500ms", "2s").
package config
