package app

import (
	"os/exec"
	"runtime"
)

// openBrowser hands url to the platform's default handler.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	// reap the child without blocking the login flow
	go func() { _ = cmd.Wait() }()
	return nil
}
