package diagram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RendererOptions struct {
	Binary  string
	OutDir  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Renderer shells out to the d2 CLI and leaves SVGs in OutDir.
type Renderer struct {
	bin     string
	outDir  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Binary == "" {
		opts.Binary = "d2"
	}
	if opts.OutDir == "" {
		opts.OutDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Renderer{bin: opts.Binary, outDir: opts.OutDir, timeout: opts.Timeout, logger: opts.Logger}
}

// Render writes source to a temporary .d2 file, which is always removed, and
// returns the SVG path. A non-zero exit is ErrRenderRejected.
func (r *Renderer) Render(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", ErrEmptyDiagram
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create diagram dir: %w", err)
	}
	name := "diagram-" + uuid.NewString()
	d2Path := filepath.Join(r.outDir, name+".d2")
	svgPath := filepath.Join(r.outDir, name+".svg")
	if err := os.WriteFile(d2Path, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("write d2 source: %w", err)
	}
	defer func() {
		_ = os.Remove(d2Path)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, d2Path, svgPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			_ = os.Remove(svgPath)
			return "", fmt.Errorf("%w: %s", ErrRenderRejected, firstLine(out.String(), exitErr.Error()))
		}
		return "", fmt.Errorf("run %s: %w", r.bin, err)
	}
	r.logger.Debug("diagram rendered", zap.String("svg", svgPath))
	return svgPath, nil
}

func firstLine(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	line, _, _ := strings.Cut(s, "\n")
	return line
}
