// Package client runs PowerShell scripts and copies files on Windows hosts
// over WinRM.
//
// This is the recommended entry point for most users. It handles:
//   - Authentication (Basic, NTLM, Kerberos over SOAP or a helper process)
//   - Shell lifecycle and scratch file cleanup
//   - Script framing, chunked file transfer and output variable capture
//
// # Quick Start
//
//	cfg := client.DefaultSessionConfig()
//	cfg.Hostname = "server01"
//	cfg.Username = "administrator"
//	cfg.Password = os.Getenv("WINEXEC_PASSWORD")
//	cfg.AuthScheme = client.AuthNTLM
//
//	s, err := client.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(ctx)
//
//	result, err := s.RunScript(ctx, `Write-Host "hi"`, nil, powershell.ModeEncoded)
//
// A Session runs one operation at a time. Open one Session per host and
// goroutine to work on several hosts at once.
package client
