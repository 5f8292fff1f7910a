// Package powershell frames PowerShell scripts into command lines that survive
// a WinRS cmd.exe shell.
//
// Everything here is a pure function of its arguments: the package builds
// strings and parses output but never talks to a host. Three framing modes
// are supported:
//
//   - ModeEncoded: the whole script is base64-encoded and decoded inline by
//     a single powershell.exe invocation.
//   - ModeUnencoded: the script is escaped and assembled line by line into a
//     scratch file, which is then executed.
//   - ModeSplit: the base64 text of the script is streamed into a scratch
//     file in chunks, decoded in place, then executed.
//
// The package also renders the chunk append commands used for file copies,
// the wrapper that captures environment variables into a side file, and the
// parser for that side file.
package powershell
