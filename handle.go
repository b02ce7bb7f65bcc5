package chronikcache

import (
	"context"

	"github.com/raipay/chronikcache/cacheengine"
	"github.com/raipay/chronikcache/subject"
)

// DefaultPageSize matches history(pageOffset=0, pageSize=200) in the
// source client.
const DefaultPageSize = 200

// Handle is a fluent, subject-scoped view returned by Address/Script/
// TokenID.
type Handle struct {
	c   *Cache
	sub subject.Subject
}

// History serves pageOffset/pageSize of the subject's transaction
// history. pageSize <= 0 defaults to DefaultPageSize.
func (h *Handle) History(ctx context.Context, pageOffset, pageSize int) (cacheengine.Response, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return h.c.engine.History(ctx, h.sub, pageOffset, pageSize)
}

// Subject exposes the underlying subject, e.g. for logging.
func (h *Handle) Subject() subject.Subject {
	return h.sub
}
