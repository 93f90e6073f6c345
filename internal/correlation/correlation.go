// Package correlation generates and propagates the per-request correlation
// id carried in X-Correlation-ID.
package correlation

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamflix/gateway/internal/util"
)

// DefaultPrefix starts every generated id.
const DefaultPrefix = "stfx"

// minValidLength is the shortest id IsValid accepts.
const minValidLength = 20

// Generator produces ids of the form <prefix>-<epochMillis>-<8 hex chars>.
type Generator struct {
	prefix string
	now    func() time.Time
}

// NewGenerator returns a Generator. An empty prefix selects DefaultPrefix and
// a nil clock selects time.Now.
func NewGenerator(prefix string, now func() time.Time) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{prefix: prefix, now: now}
}

// Generate returns a new id.
func (g *Generator) Generate() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	var b strings.Builder
	b.Grow(len(g.prefix) + 24)
	b.WriteString(g.prefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(suffix)
	return b.String()
}

// IsValid reports whether id looks like one of ours. Foreign ids are still
// propagated, so this is informational only.
func (g *Generator) IsValid(id string) bool {
	return strings.HasPrefix(id, g.prefix+"-") && len(id) >= minValidLength
}

// GetOrGenerate returns existing when it is non-blank, otherwise a new id.
func (g *Generator) GetOrGenerate(existing string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	return g.Generate()
}

// Ensure returns the inbound X-Correlation-ID verbatim, or a new id.
func (g *Generator) Ensure(r *http.Request) string {
	return g.GetOrGenerate(r.Header.Get(util.HeaderCorrelationID))
}

var defaultGenerator = NewGenerator(DefaultPrefix, nil)

// Generate returns a new id with DefaultPrefix.
func Generate() string { return defaultGenerator.Generate() }

// IsValid reports whether id carries DefaultPrefix and is long enough.
func IsValid(id string) bool { return defaultGenerator.IsValid(id) }

// GetOrGenerate is Generator.GetOrGenerate on the default generator.
func GetOrGenerate(existing string) string { return defaultGenerator.GetOrGenerate(existing) }

// Ensure is Generator.Ensure on the default generator.
func Ensure(r *http.Request) string { return defaultGenerator.Ensure(r) }
