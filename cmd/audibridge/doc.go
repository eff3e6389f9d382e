// Package main hosts the audibridge CLI entrypoint and command graph.
//
// `audibridge serve` runs the HTTP daemon. The remaining commands drive the
// same login, refresh, library and acquisition services in-process so an
// account can be linked and a title fetched without a running daemon. Command
// output is a table on a terminal and JSON otherwise, unless --output says
// which.
package main
