// Package cli provides the command-line interface for netinspect.
//
// Commands:
//   - serve: Run the observer endpoint, capturing proxy and metrics listener
//   - tail: Connect as the observer and print network events
//   - config: Display the effective configuration (schema, validate)
//   - version: Show netinspect version
//
// Configuration precedence is defaults, then the YAML file, then NETINSPECT_*
// environment variables, then flags given explicitly on the command line.
package cli
