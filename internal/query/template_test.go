package query

import (
	"strings"
	"testing"

	"github.com/koustreak/pgtable/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColumns(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func TestParse_Names(t *testing.T) {
	tpl, err := Parse("WHERE {id} = {root} OR {id} = {root}")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "root", "id", "root"}, tpl.Names())
}

func TestParse_Errors(t *testing.T) {
	for _, s := range []string{"WHERE {id", "WHERE {} = 1", "WHERE id} = 1", "WHERE {a{b} = 1"} {
		_, err := Parse(s)
		require.Error(t, err, s)
		assert.True(t, errs.IsInvalidInput(err), s)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		literals map[string]any
		excluded bool
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "column and literal",
			fragment: "WHERE {id} = {root}",
			literals: map[string]any{"root": 7},
			wantSQL:  `WHERE "id" = $1`,
			wantArgs: []any{7},
		},
		{
			name:     "literal used twice binds once",
			fragment: "{left} = {x} OR {right} = {x} OR {id} > {y}",
			literals: map[string]any{"x": 1, "y": 2},
			wantSQL:  `"left" = $1 OR "right" = $1 OR "id" > $2`,
			wantArgs: []any{1, 2},
		},
		{
			name:     "escaped braces",
			fragment: "{tags} = '{{}}'",
			wantSQL:  `"tags" = '{}'`,
		},
		{
			name:     "table qualified",
			fragment: "{nodes.id} = 1",
			wantSQL:  `"nodes"."id" = 1`,
		},
		{
			name:     "excluded",
			fragment: "{left} = {EXCLUDED.left}",
			excluded: true,
			wantSQL:  `"left" = EXCLUDED."left"`,
		},
		{
			name:     "injection attempt stays a bound value",
			fragment: "WHERE {id} = {v}",
			literals: map[string]any{"v": "1; DROP TABLE nodes"},
			wantSQL:  `WHERE "id" = $1`,
			wantArgs: []any{"1; DROP TABLE nodes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newBinder("nodes", testColumns("id", "left", "right", "tags"), tt.literals)
			require.NoError(t, err)
			b.excluded = tt.excluded

			var sb strings.Builder
			require.NoError(t, b.render(&sb, tt.fragment))
			assert.Equal(t, tt.wantSQL, sb.String())
			assert.Equal(t, tt.wantArgs, b.args)
		})
	}
}

func TestRender_Unresolved(t *testing.T) {
	b, err := newBinder("nodes", testColumns("id"), map[string]any{"root": 1})
	require.NoError(t, err)

	var sb strings.Builder
	err = b.render(&sb, "WHERE {uid} = {root}")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "{uid}")
}

func TestRender_ExcludedOnlyInConflictClause(t *testing.T) {
	b, err := newBinder("nodes", testColumns("id"), nil)
	require.NoError(t, err)

	var sb strings.Builder
	assert.Error(t, b.render(&sb, "{EXCLUDED.id}"))
}

func TestNewBinder_LiteralShadowsColumn(t *testing.T) {
	_, err := newBinder("nodes", testColumns("id"), map[string]any{"id": 1})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"nodes"`, QuoteIdent("nodes"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}
