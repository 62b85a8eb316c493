package tangguh

import "context"

// TokenProvider supplies the bearer token for authenticated calls. It is the
// narrow seam to whatever session machinery the application runs; this
// package never caches or refreshes tokens itself.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken returns a TokenProvider that always yields token.
func StaticToken(token string) TokenProvider {
	return TokenProviderFunc(func(context.Context) (string, error) {
		return token, nil
	})
}
