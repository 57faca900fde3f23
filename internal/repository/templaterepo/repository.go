// Package templaterepo maintains the paginated template collection:
// an observable item list filtered by category, loaded page by page
// with cache fallback when the network fails.
package templaterepo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"eventwish-sync/internal/domain/resource"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/infrastructure/netclient"
	"eventwish-sync/internal/repository/resourcerepo"
	"eventwish-sync/internal/stream"
)

// Repository drives the template listing state machine. Page numbers
// only increase within one category session; changing category or
// forcing a refresh restarts at page 1 and cancels any in-flight
// fetch.
type Repository struct {
	fetcher  resourcerepo.Fetcher
	conn     resourcerepo.Connectivity
	coord    *resourcerepo.Coordinator
	pageSize int
	logger   *zap.Logger

	mu          sync.Mutex
	items       []resource.Template
	currentPage int
	hasMore     bool
	category    string
	loading     bool
	cancelFetch context.CancelFunc

	templates  *stream.Subject[[]resource.Template]
	categories *stream.Subject[map[string]int]
	loadingSub *stream.Subject[bool]
	errorSub   *stream.Subject[error]
}

// New creates a repository. The coordinator is used for per-template
// write-through caching and cache fallback.
func New(fetcher resourcerepo.Fetcher, conn resourcerepo.Connectivity, coord *resourcerepo.Coordinator, pageSize int, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Repository{
		fetcher:     fetcher,
		conn:        conn,
		coord:       coord,
		pageSize:    pageSize,
		logger:      logger,
		currentPage: 1,
		hasMore:     true,
		templates:   stream.NewSubjectOf([]resource.Template(nil)),
		categories:  stream.NewSubject[map[string]int](),
		loadingSub:  stream.NewSubjectOf(false),
		errorSub:    stream.NewSubject[error](),
	}
}

// Templates returns the observable item list.
func (r *Repository) Templates() *stream.Subject[[]resource.Template] { return r.templates }

// Categories returns the observable category→count side channel.
func (r *Repository) Categories() *stream.Subject[map[string]int] { return r.categories }

// Loading returns the observable loading flag.
func (r *Repository) Loading() *stream.Subject[bool] { return r.loadingSub }

// Errors returns the stream of load failures and stale warnings.
func (r *Repository) Errors() *stream.Subject[error] { return r.errorSub }

// CurrentPage returns the next page number to fetch.
func (r *Repository) CurrentPage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPage
}

// HasMore reports whether the server indicated further pages.
func (r *Repository) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Category returns the active category filter.
func (r *Repository) Category() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.category
}

// LoadTemplates fetches the next page. Calls while a load is already
// in flight are coalesced into a no-op, as are calls after the last
// page unless forceRefresh is set. forceRefresh restarts at page 1
// and replaces the item list.
func (r *Repository) LoadTemplates(ctx context.Context, forceRefresh bool) {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return
	}
	if !r.hasMore && !forceRefresh {
		r.mu.Unlock()
		return
	}
	if forceRefresh {
		if r.cancelFetch != nil {
			r.cancelFetch()
		}
		r.currentPage = 1
		r.hasMore = true
	}
	page := r.currentPage
	category := r.category
	replace := forceRefresh || page == 1

	fetchCtx, cancel := context.WithCancel(ctx)
	r.cancelFetch = cancel
	r.loading = true
	r.mu.Unlock()

	r.loadingSub.Publish(true)
	go r.fetchPage(fetchCtx, page, category, replace)
}

func (r *Repository) fetchPage(ctx context.Context, page int, category string, replace bool) {
	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
		r.loadingSub.Publish(false)
	}()

	result, err := r.fetcher.FetchList(ctx, resource.TypeTemplate, netclient.ListQuery{
		Page:     page,
		PageSize: r.pageSize,
		Category: category,
	}, "", r.conn.CacheControlHint())
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled by a state reset, drop silently
		}
		r.fallbackToCache(ctx, category, err)
		return
	}

	pageData, err := resource.DecodeTemplatePage(result.Body)
	if err != nil {
		r.errorSub.Publish(err)
		return
	}

	r.mu.Lock()
	// A category change while this fetch was in flight invalidates
	// the result.
	if r.category != category {
		r.mu.Unlock()
		return
	}
	if replace {
		r.items = pageData.Templates
	} else {
		r.items = append(r.items, pageData.Templates...)
	}
	r.currentPage = page + 1
	r.hasMore = pageData.HasMore
	items := make([]resource.Template, len(r.items))
	copy(items, r.items)
	r.mu.Unlock()

	r.templates.Publish(items)
	if len(pageData.Categories) > 0 {
		r.categories.Publish(pageData.Categories)
		r.cacheCategories(ctx, pageData.Categories)
	} else {
		r.restoreCategories(ctx)
	}
	r.cacheTemplates(ctx, pageData.Templates)
}

// categoryCountsKey is the store key for the category→count side
// channel that template list responses carry.
const categoryCountsKey = "template-counts"

func (r *Repository) cacheCategories(ctx context.Context, counts map[string]int) {
	if r.coord == nil {
		return
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return
	}
	entity := resource.Entity{
		Type: resource.TypeCategory,
		Key:  categoryCountsKey,
		Data: data,
	}
	if err := r.coord.SaveResource(ctx, entity); err != nil {
		r.logger.Debug("caching category counts failed", zap.Error(err))
	}
}

// restoreCategories backfills the category stream from the cached side
// channel when a page response omits it.
func (r *Repository) restoreCategories(ctx context.Context) {
	if r.coord == nil {
		return
	}
	if _, ok := r.categories.Value(); ok {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	select {
	case entity, ok := <-r.coord.Watch(waitCtx, resource.TypeCategory, categoryCountsKey):
		if !ok || !entity.HasData() {
			return
		}
		var counts map[string]int
		if err := json.Unmarshal(entity.Data, &counts); err == nil && len(counts) > 0 {
			r.categories.Publish(counts)
		}
	case <-waitCtx.Done():
	}
}

// cacheTemplates writes fetched templates through the coordinator so
// single-template loads hit the cache tiers.
func (r *Repository) cacheTemplates(ctx context.Context, templates []resource.Template) {
	if r.coord == nil {
		return
	}
	for _, tpl := range templates {
		data, err := json.Marshal(tpl)
		if err != nil {
			continue
		}
		entity := resource.Entity{
			Type: resource.TypeTemplate,
			Key:  tpl.ID,
			Data: data,
		}
		if err := r.coord.SaveResource(ctx, entity); err != nil {
			r.logger.Debug("caching template failed",
				zap.String("template_id", tpl.ID), zap.Error(err))
		}
	}
}

// fallbackToCache serves cached templates after a failed page fetch.
// With items already on screen the failure degrades to a warning;
// with nothing cached it surfaces as an error.
func (r *Repository) fallbackToCache(ctx context.Context, category string, cause error) {
	r.mu.Lock()
	haveItems := len(r.items) > 0
	r.mu.Unlock()

	if haveItems {
		r.errorSub.Publish(apperrors.New(apperrors.TypeStaleServed, "refresh failed, showing cached templates").
			WithCause(cause).Build())
		return
	}

	if r.coord != nil {
		subject := r.coord.ResourcesByType(ctx, resource.TypeTemplate, false)
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		result, err := stream.Await(waitCtx, subject, func(lr resourcerepo.ListResult) bool {
			return lr.IsTerminal()
		})
		if err == nil && result.State == stream.StateSuccess {
			templates := decodeCachedTemplates(result.Data, category)
			if len(templates) > 0 {
				r.mu.Lock()
				r.items = templates
				r.mu.Unlock()
				r.templates.Publish(templates)
				r.errorSub.Publish(apperrors.New(apperrors.TypeStaleServed, "offline, showing cached templates").
					WithCause(cause).Build())
				return
			}
		}
	}

	r.errorSub.Publish(cause)
}

func decodeCachedTemplates(entities []resource.Entity, category string) []resource.Template {
	var templates []resource.Template
	for _, entity := range entities {
		tpl, err := resource.DecodeTemplate(entity.Data)
		if err != nil {
			continue
		}
		if category != "" && tpl.Category != category {
			continue
		}
		templates = append(templates, *tpl)
	}
	return templates
}

// SetCategory switches the active filter. Setting the same value is a
// no-op. A change cancels any in-flight fetch, resets pagination to
// page 1, clears the list, and reloads when reload is true.
func (r *Repository) SetCategory(ctx context.Context, category string, reload bool) {
	r.mu.Lock()
	if r.category == category {
		r.mu.Unlock()
		return
	}
	if r.cancelFetch != nil {
		r.cancelFetch()
	}
	r.category = category
	r.currentPage = 1
	r.hasMore = true
	r.items = nil
	r.loading = false
	r.mu.Unlock()

	r.templates.Publish(nil)
	if reload {
		r.LoadTemplates(ctx, false)
	}
}

// ClearCache drops cached templates from both tiers and resets the
// listing state.
func (r *Repository) ClearCache(ctx context.Context) error {
	r.mu.Lock()
	if r.cancelFetch != nil {
		r.cancelFetch()
	}
	r.currentPage = 1
	r.hasMore = true
	r.items = nil
	r.loading = false
	r.mu.Unlock()

	r.templates.Publish(nil)
	if r.coord == nil {
		return nil
	}
	return r.coord.ClearType(ctx, resource.TypeTemplate)
}

// GetTemplateByID loads one template through the cache tiers.
func (r *Repository) GetTemplateByID(ctx context.Context, id string) (*resource.Template, error) {
	if r.coord == nil {
		return nil, apperrors.New(apperrors.TypeInternal, "no cache coordinator configured").Build()
	}
	subject := r.coord.LoadResource(ctx, resource.TypeTemplate, id, false)
	result, err := stream.Await(ctx, subject, func(res resourcerepo.Result) bool {
		return res.IsTerminal()
	})
	if err != nil {
		return nil, err
	}
	if result.State == stream.StateError {
		return nil, result.Err
	}
	return resource.DecodeTemplate(result.Data)
}
