// Package config resolves the deploy tool's run settings from CLI flags, environment
// variables and defaults (in that order of precedence) and parses the unified
// .screeps.yaml file that describes the target servers and the code quota.
package config
