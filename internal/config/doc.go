// Package config parses experiment and server configuration.
//
// Experiment configuration arrives as the config_str of a setup message.
// It is a CUE document (plain JSON is valid CUE) unified with the embedded
// #Experiment schema, which supplies defaults and rejects unknown fields.
// A minimal two-phase configuration:
//
//	parameters: [
//		{name: "x1", lower_bound: 0, upper_bound: 4},
//		{name: "x2", lower_bound: 0, upper_bound: 4},
//	]
//	outcomes: ["continuous"]
//	strategies: [
//		{name: "init", generator: "random", min_asks: 3, seed: 1},
//		{name: "opt", generator: "optimize", model: "kernel", min_asks: 4},
//	]
//
// Server configuration (database path, listen addresses, tell pairing
// mode) is loaded with viper from an optional YAML file, PSYSERVE_*
// environment variables and bound command-line flags.
package config
