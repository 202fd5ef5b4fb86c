// Package config loads the authcore-server configuration.
//
// Configuration is read from a YAML file, then overridden by AUTHCORE_*
// environment variables, then validated. Secrets (JWT key, master secret,
// database DSN) are expected to come from the environment in production.
//
// [Config.EngineConfig] translates the file into an authcore.Config; the
// library itself never reads files or the environment.
package config
