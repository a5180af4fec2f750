// Package printing is the boundary to the reading-room print spooler.
// The core only tracks the printed flag per request.
package printing

import (
	"context"
	"log/slog"

	"github.com/leeszaal/deliver-go/internal/domain"
)

type Printer interface {
	// PrintItems sends the holding requests to the reading-room printer.
	PrintItems(ctx context.Context, items []*domain.HoldingRequest) error
}

type LogPrinter struct {
	logger *slog.Logger
}

func NewLogPrinter(logger *slog.Logger) *LogPrinter {
	return &LogPrinter{logger: logger}
}

func (p *LogPrinter) PrintItems(_ context.Context, items []*domain.HoldingRequest) error {
	for _, hr := range items {
		p.logger.Info("print: holding request",
			"holding", hr.Holding.ID,
			"signature", hr.Holding.Signature,
		)
	}
	return nil
}
