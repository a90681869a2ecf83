package shell

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

// GetOSEnvirons returns the system environment variables
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves HTTP and HTTPS proxy environment variables
func GetOSProxyEnvirons() map[string]string {
	proxyEnv := make(map[string]string)
	for key, value := range GetOSEnvirons() {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "http_proxy") ||
			strings.Contains(lower, "https_proxy") ||
			strings.Contains(lower, "no_proxy") {
			proxyEnv[key] = value
		}
	}
	return proxyEnv
}

// LookPath resolves a program on PATH. Tests replace it.
var LookPath = exec.LookPath

// IsCommandExist checks if a command exists on the host
func IsCommandExist(cmd string) bool {
	_, err := LookPath(cmd)
	return err == nil
}

// Run executes argv in dir without a shell, streaming stdout and stderr to
// the debug log. It returns the process exit code; err is set only when the
// process could not be started or waited on.
var Run = func(argv []string, dir string, envVal []string) (int, error) {
	log := logger.Logger()
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty command")
	}
	log.Debugf("Exec: %v (dir=%s)", argv, dir)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envVal...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stdout pipe for %s: %w", argv[0], err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stderr pipe for %s: %w", argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout)
	go streamLines(&wg, stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to wait for %s: %w", argv[0], err)
	}
	return 0, nil
}

// Output executes argv and returns its stdout. A non-zero exit is an error
// carrying stderr.
var Output = func(argv []string, dir string, envVal []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	logger.Logger().Debugf("Exec: %v (dir=%s)", argv, dir)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envVal...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("failed to exec %s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	log := logger.Logger()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if str := scanner.Text(); str != "" {
			log.Debugf("%s", str)
		}
	}
}
