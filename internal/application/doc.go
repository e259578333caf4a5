// Package application wires the deploy pipeline together: resolve the server from
// .screeps.yaml, clear the output directory, bundle, read the artifacts back and
// upload them. It keeps the main package focused on CLI parsing and exit handling.
package application
