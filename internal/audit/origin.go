package audit

import "context"

// Command sources.
const (
	SourceAPI      = "api"
	SourceInternal = "internal"
)

// Origin says who issued a command.
type Origin struct {
	Source    string
	RequestID string
}

type originKey struct{}

// WithOrigin returns a context carrying o.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin stored in ctx, or an internal origin.
func OriginFrom(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		if o.Source == "" {
			o.Source = SourceInternal
		}
		return o
	}
	return Origin{Source: SourceInternal}
}
