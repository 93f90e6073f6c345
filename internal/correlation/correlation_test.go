package correlation

import (
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/streamflix/gateway/internal/util"
)

var idPattern = regexp.MustCompile(`^stfx-\d+-[0-9a-f]{8}$`)

func TestGenerate_Format(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1700000000123)
	g := NewGenerator("", func() time.Time { return fixed })

	id := g.Generate()
	assert.Regexp(t, idPattern, id)
	assert.Contains(t, id, "-1700000000123-")
	assert.True(t, g.IsValid(id))
}

func TestGenerate_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := Generate()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{id: "stfx-1700000000000-abcdef12", want: true},
		{id: "stfx-1-a", want: false},
		{id: "other-1700000000000-abcdef12", want: false},
		{id: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValid(tt.id), tt.id)
	}
}

func TestCustomPrefix(t *testing.T) {
	t.Parallel()

	g := NewGenerator("edge", nil)
	id := g.Generate()
	assert.Regexp(t, `^edge-\d+-[0-9a-f]{8}$`, id)
	assert.False(t, IsValid(id))
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(util.HeaderCorrelationID, "client-supplied")
	assert.Equal(t, "client-supplied", Ensure(r), "inbound ids are reused verbatim")

	r = httptest.NewRequest("GET", "/", nil)
	assert.Regexp(t, idPattern, Ensure(r))

	assert.Regexp(t, idPattern, GetOrGenerate("   "))
}
