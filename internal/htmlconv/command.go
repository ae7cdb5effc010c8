package htmlconv

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Command builds a Converter that pipes HTML through an external renderer
// reading from stdin and writing PDF to stdout, e.g.
// "wkhtmltopdf --quiet - -" or "weasyprint - -".
func Command(commandLine string) (Converter, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty converter command")
	}
	name, args := fields[0], fields[1:]

	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("converter command not available: %w", err)
	}

	return func(htmlContent string) ([]byte, error) {
		cmd := exec.Command(name, args...)
		cmd.Stdin = strings.NewReader(htmlContent)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
		}
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("%s produced no output", name)
		}
		return stdout.Bytes(), nil
	}, nil
}
