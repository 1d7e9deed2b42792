package secrets

import (
	"os"
	"strings"

	"github.com/rendis/loom/pkg/schema"
)

// Reference prefixes recognized in config values.
const (
	envPrefix = "env:"
	encPrefix = "enc:"
)

// Resolver resolves secret references in config values. Values of the form
// "env:NAME" are read from the environment, "enc:..." are decrypted with the
// configured cipher, and everything else passes through untouched. Resolved
// values live in memory only.
type Resolver struct {
	cipher *Cipher
}

// NewResolver creates a Resolver. A nil cipher leaves env references working
// but rejects encrypted values.
func NewResolver(cipher *Cipher) *Resolver {
	return &Resolver{cipher: cipher}
}

// Resolve resolves one config value.
func (r *Resolver) Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envPrefix):
		name := strings.TrimPrefix(value, envPrefix)
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"environment variable %q referenced in config is not set", name)
		}
		return v, nil

	case strings.HasPrefix(value, encPrefix):
		if r.cipher == nil {
			return "", schema.NewError(schema.ErrCodeValidation,
				"encrypted config value found but no secrets key is configured")
		}
		return r.cipher.DecryptString(strings.TrimPrefix(value, encPrefix))

	default:
		return value, nil
	}
}

// ResolveParams resolves all top-level string values of a params map,
// returning a new map. A nil map resolves to nil.
func (r *Resolver) ResolveParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		resolved, err := r.Resolve(s)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"param %q: %s", k, err.Error()).WithCause(err)
		}
		out[k] = resolved
	}
	return out, nil
}
