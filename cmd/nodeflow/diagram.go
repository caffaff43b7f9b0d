package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
)

func runDiagram(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "ascii", "output format: ascii, mermaid or png")
	runPath := fs.String("run", "", "run record JSON (as printed by 'nodeflow run') to overlay")
	outPath := fs.String("o", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("diagram expects exactly one graph file")
	}

	def, err := readGraph(fs.Arg(0))
	if err != nil {
		return err
	}
	rec, err := readRunRecord(*runPath)
	if err != nil {
		return err
	}
	model, err := diagram.Build(def, rec)
	if err != nil {
		return err
	}

	var out []byte
	switch *format {
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "png":
		if *outPath == "" {
			return errors.New("png output requires -o")
		}
		if out, err = diagram.RenderImage(context.Background(), model); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want ascii, mermaid or png)", *format)
	}

	if *outPath == "" {
		_, err = stdout.Write(out)
		return err
	}
	if err := os.WriteFile(*outPath, out, 0o644); err != nil {
		return fmt.Errorf("write diagram: %w", err)
	}
	return nil
}

// readRunRecord loads a run record to overlay. An empty path means no overlay.
func readRunRecord(path string) (*engine.RunExecutionData, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var rec engine.RunExecutionData
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse run record %s: %w", path, err)
	}
	return &rec, nil
}
