package source

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// PDFToolName is the external text extractor
const PDFToolName = "pdftotext"

// ErrPDFToolNotFound is returned when pdftotext is not on PATH
var ErrPDFToolNotFound = goerr.New("pdftotext not found; install poppler (brew install poppler, apt install poppler-utils)")

// CommandRunner runs an external command and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDFReader extracts text from PDF files with pdftotext
type PDFReader struct {
	runner CommandRunner
}

// NewPDFReader creates a PDFReader using os/exec
func NewPDFReader() *PDFReader {
	return NewPDFReaderWithRunner(ExecRunner{})
}

// NewPDFReaderWithRunner creates a PDFReader with an injected runner
func NewPDFReaderWithRunner(runner CommandRunner) *PDFReader {
	return &PDFReader{runner: runner}
}

// CheckPDFTool reports whether pdftotext can be found
func CheckPDFTool() error {
	if _, err := exec.LookPath(PDFToolName); err != nil {
		return goerr.Wrap(errors.Join(types.ErrConfiguration, ErrPDFToolNotFound), "pdf support unavailable")
	}
	return nil
}

func (p *PDFReader) Read(ctx context.Context, src Source) (string, error) {
	out, err := p.runner.Run(ctx, PDFToolName, "-layout", "-enc", "UTF-8", src.Path, "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", goerr.Wrap(errors.Join(types.ErrConfiguration, ErrPDFToolNotFound), "cannot read pdf",
				goerr.V("path", src.Path))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", goerr.Wrap(errors.Join(types.ErrInvalidParameter, err), "pdftotext failed",
				goerr.V("path", src.Path), goerr.V("stderr", strings.TrimSpace(string(exitErr.Stderr))))
		}
		return "", goerr.Wrap(err, "pdftotext failed", goerr.V("path", src.Path))
	}

	// pdftotext separates pages with form feeds
	text := strings.ReplaceAll(string(out), "\f", "\n")
	return strings.ToValidUTF8(text, "�"), nil
}
