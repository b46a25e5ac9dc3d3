package remote

import (
	"context"

	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
)

// DryRunClient logs every command and reports success without contacting any host.
type DryRunClient struct{}

// NewDryRunClient creates a dry-run client.
func NewDryRunClient() *DryRunClient {
	return new(DryRunClient)
}

// Run implements Client.
func (c *DryRunClient) Run(ctx context.Context, host transfer.Host, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, transfer.NewHostError(host, err)
	}

	logger.InfoKV(ctx, "[dry-run] Remote command", "host", host, "mode", req.Mode, "command", CommandLine(req))

	return &Result{ExitCode: 0}, nil
}
