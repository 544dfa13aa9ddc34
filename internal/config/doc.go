// Package config provides configuration loading and validation for the radio
// show backend. Values come from built-in defaults, an optional YAML file,
// .env files and environment variables, in that order.
package config
