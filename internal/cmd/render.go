package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fairwayhq/fairway/internal/output"
)

// addOutputFlags registers --output-format, --out and --out-dir on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to <dir>/<command>.<ext>")
}

// renderTarget is where a command writes its rendered output.
type renderTarget struct {
	Format output.Format
	Path   string
	w      io.Writer
	close  func() error
}

func (t *renderTarget) Write(p []byte) (int, error) { return t.w.Write(p) }

func (t *renderTarget) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// openRenderTarget resolves the output flags of cmd. With --out-dir the file is
// named stem plus the format's extension.
func openRenderTarget(cmd *cobra.Command, stem string) (*renderTarget, error) {
	flags := cmd.Flags()
	rawFormat, _ := flags.GetString("output-format")
	format, err := output.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}

	outPath, _ := flags.GetString("out")
	outDir, _ := flags.GetString("out-dir")
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return nil, errors.New("--out and --out-dir are mutually exclusive")
	}
	if outDir != "" {
		outPath = filepath.Join(outDir, stem+"."+format.Extension())
	}

	if outPath == "" || outPath == "-" {
		return &renderTarget{Format: format, Path: "-", w: cmd.OutOrStdout()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	return &renderTarget{Format: format, Path: outPath, w: file, close: file.Close}, nil
}
