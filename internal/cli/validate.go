package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mcpcheck/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Kind string
}

// DocumentResult is the validation outcome of one input document.
type DocumentResult struct {
	Index int `json:"index"`
	validate.Result
}

// ValidationReport is the output of the validate command.
type ValidationReport struct {
	Kind      string           `json:"kind"`
	Valid     bool             `json:"valid"`
	Documents []DocumentResult `json:"documents"`
}

func (r ValidationReport) RenderText(w io.Writer) error {
	invalid := 0
	for _, d := range r.Documents {
		if d.Valid {
			continue
		}
		invalid++
		fmt.Fprintf(w, "✗ %s[%d]\n", r.Kind, d.Index)
		for _, v := range d.Violations {
			if v.Field == "" {
				fmt.Fprintf(w, "    %s\n", v.Message)
			} else {
				fmt.Fprintf(w, "    %s: %s\n", v.Field, v.Message)
			}
		}
	}
	if invalid == 0 {
		fmt.Fprintf(w, "✓ %d %s document(s) valid\n", len(r.Documents), r.Kind)
		return nil
	}
	fmt.Fprintf(w, "%d of %d %s document(s) invalid\n", invalid, len(r.Documents), r.Kind)
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate --kind <kind> [file|-]",
		Short: "Validate saved MCP declarations and messages",
		Long: `Check saved JSON documents against the schemas the compliance suite uses.

Input is a single JSON object, a JSON array of objects, or newline-delimited
JSON. With no file, or "-", input is read from stdin. For kind message an
array is validated element by element like any other kind.

Kinds: ` + strings.Join(validate.Kinds(), ", ") + `

Example:
  mcpcheck validate --kind tool tools.json
  cat capture.ndjson | mcpcheck validate --kind message`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(opts, path, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "document kind (required)")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !slices.Contains(validate.Kinds(), opts.Kind) {
		msg := fmt.Sprintf("unknown kind %q (valid: %s)", opts.Kind, strings.Join(validate.Kinds(), ", "))
		_ = formatter.Error(CodeInput, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(CodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	docs, err := splitDocuments(data)
	if err != nil {
		_ = formatter.Error(CodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to parse input", err)
	}

	v, err := validate.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	kind := validate.Kind(opts.Kind)
	report := ValidationReport{Kind: opts.Kind, Valid: true, Documents: make([]DocumentResult, len(docs))}
	for i, doc := range docs {
		res := v.Validate(kind, doc)
		report.Documents[i] = DocumentResult{Index: i, Result: res}
		if !res.Valid {
			report.Valid = false
			formatter.VerboseLog("%s[%d]: %s", opts.Kind, i, res)
		}
	}

	if err := formatter.Success(report); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	if !report.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// splitDocuments accepts one JSON value, a sequence of values (NDJSON), or a
// single array whose elements are the documents.
func splitDocuments(data []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var docs []json.RawMessage
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", len(docs), err)
		}
		docs = append(docs, raw)
	}
	if len(docs) == 0 {
		return nil, errors.New("no JSON documents in input")
	}

	if len(docs) == 1 && bytes.HasPrefix(bytes.TrimSpace(docs[0]), []byte("[")) {
		var items []json.RawMessage
		if err := json.Unmarshal(docs[0], &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, errors.New("input array is empty")
		}
		return items, nil
	}
	return docs, nil
}
