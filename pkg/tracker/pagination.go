package tracker

import "context"

// collectionPage is the wire envelope every collection endpoint returns on
// both generations.
type collectionPage[T any] struct {
	Total  int `json:"total"`
	Count  int `json:"count"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}

// pageFetch loads one page of size limit starting at offset.
type pageFetch[T any] func(ctx context.Context, offset, limit int) (collectionPage[T], error)

// Pager lazily walks a paginated collection. Next returns one page at a
// time; done once the reported total is reached or a page comes back short.
type Pager[T any] struct {
	fetch  pageFetch[T]
	limit  int
	offset int
	total  int
	seen   int
	done   bool
}

func newPager[T any](fetch pageFetch[T], limit int) *Pager[T] {
	return &Pager[T]{fetch: fetch, limit: limit, total: -1}
}

// Next returns the next page. ok is false once the collection is exhausted.
func (p *Pager[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}
	page, err := p.fetch(ctx, p.offset, p.limit)
	if err != nil {
		return nil, false, err
	}
	p.total = page.Total
	p.offset += len(page.Items)
	p.seen += len(page.Items)
	if len(page.Items) < p.limit || (p.total >= 0 && p.seen >= p.total) {
		p.done = true
	}
	if len(page.Items) == 0 {
		return nil, false, nil
	}
	return page.Items, true, nil
}

// fetchAll drains a pager into one slice.
func fetchAll[T any](ctx context.Context, fetch pageFetch[T], limit int) ([]T, error) {
	pager := newPager(fetch, limit)
	var out []T
	for {
		items, ok, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, items...)
	}
}
