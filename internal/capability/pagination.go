package capability

import (
	"sort"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

// defaultPageLimit is used when a list request omits limit entirely.
const defaultPageLimit = 50

// paginateByName is the shared engine behind tools/list, resources/list,
// resources/templates/list, and prompts/list. names is sorted for a stable
// order; cursor names the last item of the previous page (opaque to the
// caller). A limit of exactly zero is rejected rather than treated as
// "unlimited".
func paginateByName(names []string, cursor *schema.Cursor, limit *int) (page []string, next schema.Cursor, hasMore bool, rpcErr error) {
	if rpcErr := shared.ValidateLimit(limit); rpcErr != nil {
		return nil, "", false, shared.NewJSONRPCError(rpcErr)
	}

	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	start := 0
	if cursor != nil && *cursor != "" {
		found := false
		for i, n := range sorted {
			if n == string(*cursor) {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", false, shared.NewJSONRPCError(&shared.JSONRPCError{
				Code:    shared.JSONRPCErrorInvalidParams,
				Message: "unknown cursor",
			})
		}
	}

	pageSize := defaultPageLimit
	if limit != nil {
		pageSize = *limit
	}
	if start >= len(sorted) {
		return nil, "", false, nil
	}
	end := start + pageSize
	if end > len(sorted) {
		end = len(sorted)
	}

	page = sorted[start:end]
	hasMore = end < len(sorted)
	if hasMore {
		next = schema.Cursor(page[len(page)-1])
	}
	return page, next, hasMore, nil
}

// paginationResult bundles NextCursor/Meta construction so every list
// handler reports the same `_meta.cursor`/`_meta.total`/`_meta.hasMore`
// triple next to the legacy top-level nextCursor field.
func paginationResult(next schema.Cursor, total int, hasMore bool) (nextCursor *schema.Cursor, meta schema.Meta) {
	meta = schema.PaginationMeta(next, &total, hasMore)
	if next != "" {
		nextCursor = &next
	}
	return nextCursor, meta
}
