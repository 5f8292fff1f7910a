// Package winexec executes PowerShell scripts and transfers files on remote
// Windows hosts over WinRM.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  client/       Sessions, runs, transfers, variables     │
//	├─────────────────────────────────────────────────────────┤
//	│  powershell/   Script framing, escaping, chunking       │
//	├─────────────────────────────────────────────────────────┤
//	│  winrs/        cmd shell and processes over WSMan       │
//	├─────────────────────────────────────────────────────────┤
//	│  wsman/        WSMan/WinRM SOAP client, HTTP, auth      │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	cfg := client.DefaultSessionConfig()
//	cfg.Hostname = "server01"
//	cfg.Username = "administrator"
//	cfg.Password = "password"
//	cfg.AuthScheme = client.AuthNTLM
//
//	s, err := client.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(ctx)
//
//	result, err := s.RunScript(ctx, "Get-Service | Select -First 5", nil, powershell.ModeEncoded)
package winexec
