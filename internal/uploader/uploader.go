// Package uploader prints the deploy summary and, unless running in what-if mode,
// pushes the built modules to the target server.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/eugenenazirov/screeps-deploy/internal/calculator"
	"github.com/eugenenazirov/screeps-deploy/internal/config"
)

// CodeSetter stores a set of modules under a branch on a remote server.
type CodeSetter interface {
	SetCode(ctx context.Context, branch string, modules map[string]string) (json.RawMessage, error)
}

// ClientFactory builds the CodeSetter for a resolved server. It is only invoked for
// live uploads.
type ClientFactory func(ctx context.Context, target config.ServerConfig) (CodeSetter, error)

// Payload is what gets uploaded, along with the usage figures shown in the summary.
type Payload struct {
	Usage   calculator.Usage
	Modules map[string]string
}

// Uploader prints the summary and performs the upload.
type Uploader struct {
	out       io.Writer
	newClient ClientFactory
	logger    *zap.Logger
}

// New returns an Uploader writing human-readable output to out (stdout when nil).
func New(out io.Writer, newClient ClientFactory, logger *zap.Logger) *Uploader {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{out: out, newClient: newClient, logger: logger}
}

// Upload prints the summary for target and stores payload.Modules on the server.
// With whatIf set the client is never constructed.
func (u *Uploader) Upload(ctx context.Context, target config.ServerConfig, payload Payload, whatIf bool) error {
	u.printSummary(target, payload.Usage)

	if whatIf {
		fmt.Fprintln(u.out, "WHAT-IF: Not uploading")
		return nil
	}

	fmt.Fprintln(u.out, "Uploading")
	if u.newClient == nil {
		return errors.New("no API client configured")
	}

	client, err := u.newClient(ctx, target)
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	resp, err := client.SetCode(ctx, target.Branch, payload.Modules)
	if err != nil {
		return err
	}

	u.logger.Info("code uploaded",
		zap.String("server", target.Name),
		zap.String("branch", target.Branch),
		zap.Int("modules", len(payload.Modules)),
	)
	fmt.Fprintln(u.out, string(compact(resp)))
	return nil
}

func (u *Uploader) printSummary(target config.ServerConfig, usage calculator.Usage) {
	fmt.Fprintln(u.out, "Uploading:")
	fmt.Fprintf(u.out, "    - Server: %s\n", target.Name)
	fmt.Fprintf(u.out, "    - Branch: %s\n", target.Branch)
	fmt.Fprintf(u.out, "    - Used:   %.2fMiB of %.2fMiB (%.2f%%)\n", usage.UsedMiB, usage.AvailableMiB, usage.UsedPercent)
}

// compact prints the response on one line; a body that is not valid JSON is printed as received.
func compact(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return raw
	}
	return out.Bytes()
}
