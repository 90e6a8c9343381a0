package capability

import (
	"fmt"
	"testing"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cursorPtr(c schema.Cursor) *schema.Cursor { return &c }
func intPtr(i int) *int                        { return &i }

func TestPaginateByName_LimitZeroRejected(t *testing.T) {
	_, _, _, err := paginateByName([]string{"a", "b"}, nil, intPtr(0))
	require.Error(t, err)
	rpcErr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorInvalidParams, rpcErr.Code)
}

func TestPaginateByName_NoParamsReturnsEverythingSorted(t *testing.T) {
	page, next, hasMore, err := paginateByName([]string{"zebra", "apple", "mango"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, page)
	assert.False(t, hasMore)
	assert.Equal(t, schema.Cursor(""), next)
}

func TestPaginateByName_UnionAcrossPagesHasNoDuplicatesOrGaps(t *testing.T) {
	total := 2500
	names := make([]string, total)
	for i := range names {
		names[i] = fmt.Sprintf("item-%05d", i)
	}

	seen := make(map[string]bool, total)
	var cursor *schema.Cursor
	pages := 0
	for {
		page, next, hasMore, err := paginateByName(names, cursor, intPtr(25))
		require.NoError(t, err)
		pages++
		if hasMore {
			require.Equal(t, 25, len(page), "every page but the last must be full")
		}
		for _, n := range page {
			require.False(t, seen[n], "duplicate item across pages: %s", n)
			seen[n] = true
		}
		if !hasMore {
			break
		}
		cursor = cursorPtr(next)
	}
	assert.Len(t, seen, total)
}

func TestPaginateByName_UnknownCursorRejected(t *testing.T) {
	_, _, _, err := paginateByName([]string{"a", "b"}, cursorPtr("nonexistent"), nil)
	require.Error(t, err)
}

func TestPaginateByName_CursorResumesAfterItem(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	page, next, hasMore, err := paginateByName(names, cursorPtr("b"), intPtr(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, page)
	assert.False(t, hasMore)
	assert.Equal(t, schema.Cursor(""), next)
}

func TestPaginationResult_MetaCarriesHasMoreAndTotal(t *testing.T) {
	nextCursor, meta := paginationResult(schema.Cursor("x"), 10, true)
	require.NotNil(t, nextCursor)
	assert.Equal(t, schema.Cursor("x"), *nextCursor)
	assert.Equal(t, true, meta["hasMore"])
	assert.Equal(t, 10, meta["total"])
	assert.Equal(t, schema.Cursor("x"), meta["cursor"])

	nextCursor, meta = paginationResult("", 10, false)
	assert.Nil(t, nextCursor)
	assert.Equal(t, false, meta["hasMore"])
	_, hasCursor := meta["cursor"]
	assert.False(t, hasCursor)
}
