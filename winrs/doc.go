// Package winrs provides a Windows Remote Shell (WinRS) client.
//
// WinRS runs cmd.exe command lines on a remote Windows host over the
// WS-Management (WSMan) protocol. A Shell owns one remote cmd.exe instance;
// each Run or Start issues one command in it and streams stdout and stderr
// back as the command produces them.
//
// Basic usage:
//
//	shell, err := winrs.NewShell(ctx, wsmanClient,
//	    winrs.WithWorkingDirectory("C:\\temp"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer shell.Close(ctx)
//
//	code, err := shell.Run(ctx, "dir /b", os.Stdout, os.Stderr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("exit code:", code)
//
// A receive that hits the server-side operation timeout fails the command
// by default; WithReceiveTimeoutRetries opts into polling again.
package winrs
