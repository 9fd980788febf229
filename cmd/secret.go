package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"ticket-checkin/internal/credential"

	"github.com/spf13/cobra"
)

// newScanSecretCommand prints a fresh SCAN_SIGNING_SECRET line.
func newScanSecretCommand(out io.Writer) *cobra.Command {
	var size int

	command := &cobra.Command{
		Use:          "scan-secret",
		Short:        "Generates a random signing secret for scan credentials",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeScanSecret(out, rand.Reader, size)
		},
	}
	command.Flags().IntVar(&size, "bytes", credential.MinSecretSize, "number of random bytes")

	return command
}

func writeScanSecret(out io.Writer, reader io.Reader, size int) error {
	if size < credential.MinSecretSize {
		return fmt.Errorf("bytes must be at least %d", credential.MinSecretSize)
	}
	if out == nil {
		return errors.New("output is required")
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "SCAN_SIGNING_SECRET=%s\n", hex.EncodeToString(buf))
	return err
}
