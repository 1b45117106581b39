//go:build !protogen

package accounts

// NewGRPCProvider is a stub in builds without generated proto code; callers
// fall back to the HTTP provider.
func NewGRPCProvider(_ string) (Provider, error) {
	return nil, nil
}
