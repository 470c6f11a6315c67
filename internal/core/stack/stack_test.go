package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse Tests
// =============================================================================

const platformYAML = `
services:
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD:-memstack}
    volumes:
      - pgdata:/var/lib/postgresql/data
    labels:
      memstack.stage: "0"
      memstack.probe.exec: "pg_isready -h localhost -p 5432"

  memstack-api:
    image: glaciereq/memstack-api:1.0.0
    ports:
      - "8000:8000"
    depends_on:
      - postgres
    labels:
      memstack.stage: "1"
      memstack.probe.http: "http://localhost:8000/health"
      memstack.warmup: "10s"

volumes:
  pgdata:
`

func TestParse_PlatformStack(t *testing.T) {
	st, err := Parse("memstack", platformYAML)
	require.NoError(t, err)

	require.Len(t, st.Services, 2)
	assert.Equal(t, []string{"pgdata"}, st.Volumes)

	api := st.Service("memstack-api")
	require.NotNil(t, api)
	assert.Equal(t, "glaciereq/memstack-api:1.0.0", api.Image)
	assert.Equal(t, "1", api.Labels["memstack.stage"])
	assert.Equal(t, []string{"postgres"}, api.DependsOn)
	require.Len(t, api.Ports, 1)
	assert.Equal(t, 8000, api.Ports[0].Target)
	assert.Equal(t, 8000, api.Ports[0].Published)

	pg := st.Service("postgres")
	require.NotNil(t, pg)
	require.Len(t, pg.Volumes, 1)
	assert.True(t, pg.Volumes[0].Named)
	assert.Equal(t, "pgdata", pg.Volumes[0].Source)
}

func TestParse_PreservesVariablePlaceholders(t *testing.T) {
	st, err := Parse("memstack", `
services:
  memstack-api:
    image: glaciereq/memstack-api:1.0.0
    environment:
      MEM0_API_KEY: ${MEM0_API_KEY}
      DATABASE_URL: postgres://memstack:${POSTGRES_PASSWORD:-memstack}@postgres:5432/memstack
`)
	require.NoError(t, err)

	// Placeholders must come through parsing verbatim: they are resolved
	// against the operator's env file when the container is created, not
	// against the loader's environment.
	api := st.Service("memstack-api")
	require.NotNil(t, api)
	assert.Equal(t, "${MEM0_API_KEY}", api.Environment["MEM0_API_KEY"])
	assert.Equal(t, "postgres://memstack:${POSTGRES_PASSWORD:-memstack}@postgres:5432/memstack", api.Environment["DATABASE_URL"])
}

func TestParse_ServicesSortedByName(t *testing.T) {
	st, err := Parse("memstack", platformYAML)
	require.NoError(t, err)

	assert.Equal(t, "memstack-api", st.Services[0].Name)
	assert.Equal(t, "postgres", st.Services[1].Name)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse("memstack", "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("memstack", "services: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_ServiceWithoutImage(t *testing.T) {
	_, err := Parse("memstack", `
services:
  broken:
    labels:
      memstack.stage: "0"
`)
	require.Error(t, err)
}

// =============================================================================
// Variable Substitution Tests
// =============================================================================

func TestSubstituteVariables(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		variables map[string]string
		expected  string
	}{
		{"simple", "${DB_HOST}", map[string]string{"DB_HOST": "localhost"}, "localhost"},
		{"default used", "${PORT:-8000}", map[string]string{}, "8000"},
		{"default ignored", "${PORT:-8000}", map[string]string{"PORT": "9000"}, "9000"},
		{"missing kept", "${MISSING}", map[string]string{}, "${MISSING}"},
		{"composite", "postgres://${HOST}:${PORT}", map[string]string{"HOST": "db", "PORT": "5432"}, "postgres://db:5432"},
		{"nil map", "plain", nil, "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubstituteVariables(tt.value, tt.variables))
		})
	}
}
