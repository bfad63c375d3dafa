package backend

import "context"

type ctxKey string

const clientKey ctxKey = "vt.client"

// WithClient stores the remote client address in context.
func WithClient(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientKey, addr)
}

// ClientFromCtx fetches the remote client address from context.
func ClientFromCtx(ctx context.Context) (string, bool) {
	v := ctx.Value(clientKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
