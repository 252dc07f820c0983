// Package config defines the deployment configuration file and provides
// helpers to load, validate and save it in YAML format.
//
// A Config maps environment names to Environment definitions, each listing
// the target servers and the image/container settings. Resolve selects one
// environment, applies defaults and validates it before anything else happens.
// Overrides read DEPLOY_* variables (optionally from a .env file) for CI use.
package config
