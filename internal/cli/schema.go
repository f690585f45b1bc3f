package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"gridsync/internal/wire"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Out string
}

// NewSchemaCommand creates the schema command, which emits a JSON schema
// for the socket protocol.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Write the wire protocol JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSchema(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "output path (stdout when empty)")

	return cmd
}

func writeSchema(cmd *cobra.Command, opts *SchemaOptions) error {
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(new(wire.Protocol))
	schema.Title = "gridsync wire protocol"
	schema.Description = "Messages exchanged over the room websocket, keyed by their $ discriminator."

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	data = append(data, '\n')

	if opts.Out == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.Out), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmp := opts.Out + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmp, opts.Out); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
