// Package commands defines the pairtls CLI.
//
// Commands
//
//   - serve     Accept pairing connections over TCP and echo application data
//   - dial      Connect to a pairing endpoint and exchange stdin lines
//   - discover  List pairing endpoints advertised on the local network
//   - vectors   Print the key-schedule derivation for a pre-shared key
//
// # Implementation
//
// The root command builds a pion logging factory from the persistent
// --log-level flag before any subcommand runs, so every component a
// handler constructs shares the same leveled logging setup.
package commands
