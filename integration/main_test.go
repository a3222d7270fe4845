package integration

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

// TestMain builds the binary once and starts the fake GitHub for all tests
func TestMain(m *testing.M) {
	flag.Parse()

	fmt.Println("Building authbridge binary...")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../cmd/authbridge")
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		fmt.Printf("Failed to build authbridge: %v\n", err)
		os.Exit(1)
	}

	logFile := "authbridge-test.log"
	os.Setenv("AUTHBRIDGE_TEST_LOG_FILE", logFile)
	_ = os.Remove(logFile)

	fakeGitHub := NewFakeGitHubServer(fakeGitHubPort)
	if err := fakeGitHub.Start(); err != nil {
		fmt.Printf("Failed to start fake GitHub server: %v\n", err)
		os.Exit(1)
	}

	exitCode := m.Run()

	_ = fakeGitHub.Stop()
	if exitCode != 0 {
		showTestFailureDiagnostics(logFile)
	}
	os.Exit(exitCode)
}

// showTestFailureDiagnostics displays the service logs when tests fail
func showTestFailureDiagnostics(logFile string) {
	fmt.Println("\n========== TEST FAILURE DIAGNOSTICS ==========")

	if _, err := os.Stat(logFile); err == nil {
		fmt.Println("\nauthbridge logs (last 50 lines):")
		fmt.Println("----------------------------------------------")
		tailCmd := exec.Command("tail", "-50", logFile)
		tailCmd.Stdout = os.Stdout
		tailCmd.Stderr = os.Stderr
		_ = tailCmd.Run()
	}

	fmt.Println("\n==============================================")
}
