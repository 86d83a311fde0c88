package secrets

import (
	"fmt"
	"os"
	"strings"
)

// fileSuffix marks a variable holding the path of a file with the secret,
// as mounted by Docker and Kubernetes secrets.
const fileSuffix = "_FILE"

// EnvLoader returns a Loader for the given secret keys. A key is read from
// its variable, or else from the file named by <key>_FILE with trailing
// whitespace trimmed. Keys with neither are omitted. The file is read on
// every load, so a reload picks up a rotated secret.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
				continue
			}
			path := os.Getenv(k + fileSuffix)
			if path == "" {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s%s: %w", k, fileSuffix, err)
			}
			if v := strings.TrimRight(string(raw), " \t\r\n"); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
