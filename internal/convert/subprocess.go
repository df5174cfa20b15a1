package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner executes an external binary and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// soffice converts a Word-family document with a headless LibreOffice.
func (c *Converter) soffice(ctx context.Context, name, ext string, data []byte) ([]byte, error) {
	dir, cleanup, err := c.jobDir("soffice")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	input := filepath.Join(dir, name+"."+ext)
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	out, err := c.runner.Run(ctx, c.sofficePath,
		"--headless",
		"--nologo",
		"--nolockcheck",
		"--nodefault",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", dir,
		input,
	)
	if err != nil {
		return nil, fmt.Errorf("soffice convert failed: %w; out=%s", err, string(out))
	}
	return readOutput(filepath.Join(dir, name+".pdf"), out)
}

// chrome prints an HTML page to PDF with a headless browser.
func (c *Converter) chrome(ctx context.Context, name string, page []byte) ([]byte, error) {
	dir, cleanup, err := c.jobDir("chrome")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	input := filepath.Join(dir, name+".html")
	if err := os.WriteFile(input, page, 0o644); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}
	output := filepath.Join(dir, name+".pdf")

	out, err := c.runner.Run(ctx, c.chromePath,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--no-pdf-header-footer",
		"--print-to-pdf="+output,
		"file://"+input,
	)
	if err != nil {
		return nil, fmt.Errorf("headless print failed: %w; out=%s", err, string(out))
	}
	return readOutput(output, out)
}
