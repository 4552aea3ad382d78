package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Renderer turns a priced statement into a printable document.
type Renderer interface {
	RenderStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

func New() Renderer {
	return &MarotoRenderer{}
}
