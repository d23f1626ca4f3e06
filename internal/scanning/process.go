package scanning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single OCR process run.
const DefaultTimeout = 15 * time.Second

const defaultTemplate = "generic"

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"application/pdf": ".pdf",
}

// Process implements the Scanner interface by running an external OCR
// program. The image is written to its stdin and
// `<args...> <template> <filename>` is appended to the command line. The
// program answers with a JSON document on stdout, or exits non-zero with
// {"error": "..."} on stderr.
type Process struct {
	command string
	args    []string
	timeout time.Duration
	runner  Runner
}

// NewProcess creates a Process scanner running command with the given leading
// arguments, typically the script path.
func NewProcess(command string, args []string, timeout time.Duration) (*Process, error) {
	return NewProcessWithRunner(command, args, timeout, ExecRunner{WaitDelay: time.Second})
}

// NewProcessWithRunner creates a Process scanner with a custom Runner.
func NewProcessWithRunner(command string, args []string, timeout time.Duration, runner Runner) (*Process, error) {
	if command == "" {
		return nil, fmt.Errorf("ocr command is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Process{
		command: command,
		args:    args,
		timeout: timeout,
		runner:  runner,
	}, nil
}

// ScanReceipt runs the OCR program on imageData.
func (p *Process) ScanReceipt(ctx context.Context, imageData []byte, contentType, filename, template string) (*Result, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if template == "" {
		template = defaultTemplate
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string{}, p.args...), template, argName(filename, contentType))
	stdout, stderr, err := p.runner.Run(ctx, imageData, p.command, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
	}
	if err != nil {
		if msg := stderrMessage(stderr); msg != "" {
			return nil, fmt.Errorf("ocr process: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("ocr process: %w", err)
	}
	if len(bytes.TrimSpace(stderr)) > 0 {
		slog.Warn("OCR process wrote to stderr", "template", template, "stderr", stderrMessage(stderr))
	}

	res, err := parseOutput(string(stdout))
	if err != nil {
		return nil, fmt.Errorf("parsing ocr output: %w", err)
	}
	return res, nil
}

// Close is a no-op; every scan starts its own process.
func (p *Process) Close() error {
	return nil
}

// argName is the file name handed to the OCR program. Unnamed images get one
// from their content type.
func argName(filename, contentType string) string {
	if name := filepath.Base(filename); filename != "" && name != "." && name != "/" {
		return name
	}
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		ext = ".jpg"
	}
	return "receipt" + ext
}

// stderrMessage returns the last {"error": ...} message written to stderr, or
// the raw stderr text when none is found.
func stderrMessage(stderr []byte) string {
	var msg string
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(sc.Bytes(), &e) == nil && e.Error != "" {
			msg = e.Error
		}
	}
	if msg != "" {
		return msg
	}
	return truncate(strings.TrimSpace(string(stderr)), 1<<10)
}
