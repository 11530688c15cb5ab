// Package rasterizer renders a PDF document's pages to JPEG via an external
// ImageMagick binary, the way the source site's convert invocation did:
// one shot at 400 DPI covering pages 0-100, alpha flattened, quality 95.
package rasterizer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const maxPages = 101

// Invoker abstracts the rasterizer subprocess so tests can substitute a fake.
type Invoker interface {
	// Rasterize renders inputPDF's pages into outputDir, either as a single
	// outputDir/0.jpg (one-page document) or outputDir/0-0.jpg, 0-1.jpg, ...
	// (multi-page document), and returns the full set of produced file
	// paths in page order.
	Rasterize(ctx context.Context, inputPDF, outputDir string) ([]string, error)
}

// CommandInvoker implements Invoker by spawning the real convert/magick binary.
type CommandInvoker struct {
	// BinaryName overrides the binary to invoke. Empty selects the
	// platform default: "magick" on Windows, "convert" elsewhere.
	BinaryName string
}

func (c *CommandInvoker) binary() string {
	if c.BinaryName != "" {
		return c.BinaryName
	}
	if runtime.GOOS == "windows" {
		return "magick"
	}
	return "convert"
}

// Rasterize invokes the rasterizer binary and enumerates its output.
func (c *CommandInvoker) Rasterize(ctx context.Context, inputPDF, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create rasterizer output dir: %w", err)
	}

	firstPage := filepath.Join(outputDir, "0.jpg")
	cmd := exec.CommandContext(ctx, c.binary(),
		"-density", "400",
		fmt.Sprintf("%s[0-100]", inputPDF),
		"-alpha", "remove",
		"-quality", "95",
		firstPage,
	)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run rasterizer: %w", err)
	}

	return enumeratePages(outputDir), nil
}

// enumeratePages lists the pages ImageMagick actually wrote. A single-page
// PDF is written as the bare "0.jpg"; a multi-page PDF is written as
// "0-0.jpg", "0-1.jpg", ... with no bare "0.jpg" at all. enumeratePages
// checks for the multi-page form first and only falls back to the bare
// file when it's absent, stopping at the first index that doesn't exist —
// ImageMagick only emits a contiguous run of pages.
func enumeratePages(outputDir string) []string {
	firstMulti := filepath.Join(outputDir, "0-0.jpg")
	if _, err := os.Stat(firstMulti); err == nil {
		var pages []string
		for i := 0; i < maxPages; i++ {
			path := filepath.Join(outputDir, fmt.Sprintf("0-%d.jpg", i))
			if _, err := os.Stat(path); err != nil {
				break
			}
			pages = append(pages, path)
		}
		return pages
	}

	single := filepath.Join(outputDir, "0.jpg")
	if _, err := os.Stat(single); err == nil {
		return []string{single}
	}
	return nil
}
