// Package envfile manages the platform's .env file: materializing the
// template on first run, loading it, and checking that the required secrets
// were actually filled in before anything is deployed.
package envfile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// placeholder is the value the template ships for every secret. A secret
// still carrying it counts as unset.
const placeholder = "changeme"

// Template is the env file written on first run.
const Template = `# memstack platform secrets
# Fill in every value below before deploying.

# Memory providers
MEM0_API_KEY=changeme
SUPERMEMORY_API_KEY=changeme
PINECONE_API_KEY=changeme

# At-rest encryption key for stored memories
ENCRYPTION_KEY=changeme

# Forensic case identity reported by the platform
CASE_ID=1FDV-23-0001009

# Database
POSTGRES_PASSWORD=changeme
`

// DefaultRequired lists the secrets that must be set before deployment.
// PINECONE_API_KEY is deliberately absent: the pinecone provider is optional.
func DefaultRequired() []string {
	return []string{"MEM0_API_KEY", "SUPERMEMORY_API_KEY", "ENCRYPTION_KEY"}
}

// =============================================================================
// Operations
// =============================================================================

// Ensure writes the template to path if no env file exists yet. It returns
// true when the file was created, in which case the caller must stop and let
// the operator fill in the secrets.
func Ensure(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat env file: %w", err)
	}

	if err := os.WriteFile(path, []byte(Template), 0o600); err != nil {
		return false, fmt.Errorf("write env file template: %w", err)
	}
	return true, nil
}

// Load reads a KEY=VALUE env file. Blank lines and # comments are skipped,
// a leading "export " is tolerated, and single or double quotes around
// values are stripped.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}

	env := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %s line %d: not KEY=VALUE", domain.ErrConfig, path, i+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: %s line %d: empty key", domain.ErrConfig, path, i+1)
		}
		env[key] = unquote(strings.TrimSpace(value))
	}
	return env, nil
}

// CheckSecrets verifies every required secret is present and no longer
// carries the template placeholder. All missing names are reported at once.
func CheckSecrets(env map[string]string, required []string) error {
	var missing []string
	for _, name := range required {
		if v, ok := env[name]; !ok || v == "" || v == placeholder {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: secrets not set: %s", domain.ErrConfig, strings.Join(missing, ", "))
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
