// Command validate-envelope checks a single JSON-line envelope file
// against the envelope.v1 schema (§6, §7 "exit 0 if valid; non-zero with
// diagnostics otherwise").
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sms-collective/sms-pipeline/pkg/envelope"
)

func main() {
	var schemaPath string

	root := &cobra.Command{
		Use:   "validate-envelope <path>",
		Short: "Validate a single envelope.v1 JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], schemaPath)
		},
	}
	root.Flags().StringVar(&schemaPath, "schema", "", "optional path to an alternate schema document (unused beyond presence-checking in this build)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, schemaPath string) error {
	env, err := validate(path, schemaPath)
	if err != nil {
		return err
	}
	fmt.Printf("ok: %s (source=%s, envelope_id=%s)\n", path, env.SourceID, env.EnvelopeID)
	return nil
}

// validate loads and checks one envelope file, returning the parsed
// envelope on success. Kept separate from run so it can be exercised
// directly by tests without going through cobra/os.Exit.
func validate(path, schemaPath string) (envelope.Envelope, error) {
	if schemaPath != "" {
		if _, err := os.Stat(schemaPath); err != nil {
			return envelope.Envelope{}, fmt.Errorf("schema not found: %w", err)
		}
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("invalid json: %w", err)
	}

	if err := env.Validate(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}

	return env, nil
}
