package pdf

import (
	"context"

	"go.uber.org/fx"
)

// Provider renders customer-facing documents.
type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) ([]byte, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}
