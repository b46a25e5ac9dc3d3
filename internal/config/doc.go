// Package config defines the settings of a broadcast session and provides
// helpers to load, validate and save them in YAML format.
//
// Config is built once, validated (which fills in defaults), and then passed
// by value or pointer to every component; nothing reads global settings.
package config
