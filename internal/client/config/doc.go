// Package config loads runtime configuration for the attendkeeper CLI.
//
// Sources, in increasing precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags.
//
// JSON durations accept strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "data_file": "attendkeeper.db",
//	  "retry_base_delay": "1s",
//	  "online_check_interval": "3s"
//	}
package config
