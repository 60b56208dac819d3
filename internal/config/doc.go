// Package config provides user configuration management for moentap.
//
// This package manages a YAML-based configuration file that stores the
// cloud account reference, user-defined metadata for shower controllers
// (nicknames, outlet labels), and application preferences such as the poll
// interval and the outbound command envelope strategy.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/moentap/config.yaml or $HOME/.config/moentap/config.yaml
//   - macOS: $HOME/.config/moentap/config.yaml
//   - Windows: %LOCALAPPDATA%\moentap\config.yaml
//
// # Security
//
// IMPORTANT: This package NEVER stores the account password or session
// tokens. The password is read from the MOENTAP_PASSWORD environment
// variable or prompted when needed.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry.Account = &config.Account{Email: "user@example.com"}
//	registry.SetOutletLabel("315260240", 1, "Rain Head", "")
//
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// Saves are atomic (temp file plus rename) to prevent corruption on crash.
package config
