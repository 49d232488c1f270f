// Package services provides typed wrappers over the transport for each
// academy API resource.
package services

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/academy-client/pkg/transport"
)

// DefaultCacheTTL applies to cached list and detail reads.
const DefaultCacheTTL = 5 * time.Minute

// Services groups every domain service.
type Services struct {
	Auth           *AuthService
	Programs       *ProgramService
	Users          *UserService
	Courses        *CourseService
	Students       *StudentService
	Facilities     *FacilityService
	Communications *CommunicationService
}

// New builds all services over tc.
func New(tc *transport.Client) *Services {
	return &Services{
		Auth:           NewAuthService(tc),
		Programs:       NewProgramService(tc),
		Users:          NewUserService(tc),
		Courses:        NewCourseService(tc),
		Students:       NewStudentService(tc),
		Facilities:     NewFacilityService(tc),
		Communications: NewCommunicationService(tc),
	}
}

// ListParams are the common list query parameters.
type ListParams struct {
	Page     int
	PageSize int
	Search   string
	Filters  map[string]string
}

// Values encodes p as query parameters.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	for k, val := range p.Filters {
		v.Set(k, val)
	}
	return v
}

// expand fills a path template from name/value pairs.
func expand(tmpl *uritemplate.Template, pairs ...string) string {
	vals := uritemplate.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		vals.Set(pairs[i], uritemplate.String(pairs[i+1]))
	}
	path, err := tmpl.Expand(vals)
	if err != nil {
		// Templates are package constants and values are plain strings.
		panic(err)
	}
	return path
}

// resource implements the CRUD calls shared by collection endpoints.
type resource[T any] struct {
	tc         *transport.Client
	collection string
	item       *uritemplate.Template
	base       []transport.RequestOption
}

func newResource[T any](tc *transport.Client, collection string, base ...transport.RequestOption) resource[T] {
	return resource[T]{
		tc:         tc,
		collection: collection,
		item:       uritemplate.MustNew(collection + "/{id}"),
		base:       base,
	}
}

func (r resource[T]) opts(defaults []transport.RequestOption, extra []transport.RequestOption) []transport.RequestOption {
	out := make([]transport.RequestOption, 0, len(r.base)+len(defaults)+len(extra))
	out = append(out, r.base...)
	out = append(out, defaults...)
	return append(out, extra...)
}

func (r resource[T]) itemPath(id string) string {
	return expand(r.item, "id", id)
}

func (r resource[T]) list(ctx context.Context, p ListParams, extra []transport.RequestOption) (*transport.Response[Page[T]], error) {
	return transport.Get[Page[T]](ctx, r.tc, r.collection,
		r.opts([]transport.RequestOption{transport.WithParams(p.Values()), transport.WithCache(DefaultCacheTTL)}, extra)...)
}

func (r resource[T]) get(ctx context.Context, id string, extra []transport.RequestOption) (*transport.Response[T], error) {
	return transport.Get[T](ctx, r.tc, r.itemPath(id),
		r.opts([]transport.RequestOption{transport.WithCache(DefaultCacheTTL)}, extra)...)
}

func (r resource[T]) create(ctx context.Context, body T, extra []transport.RequestOption) (*transport.Response[T], error) {
	resp, err := transport.Post[T](ctx, r.tc, r.collection, body, r.opts(nil, extra)...)
	return invalidated(ctx, r.tc, resp, err, r.collection)
}

func (r resource[T]) update(ctx context.Context, id string, body T, extra []transport.RequestOption) (*transport.Response[T], error) {
	resp, err := transport.Put[T](ctx, r.tc, r.itemPath(id), body, r.opts(nil, extra)...)
	return invalidated(ctx, r.tc, resp, err, r.collection)
}

func (r resource[T]) delete(ctx context.Context, id string, extra []transport.RequestOption) (*transport.Response[struct{}], error) {
	resp, err := transport.Delete[struct{}](ctx, r.tc, r.itemPath(id), r.opts(nil, extra)...)
	return invalidated(ctx, r.tc, resp, err, r.collection)
}

// invalidated drops cached reads of the given collections once the server
// has accepted a mutation. A reply that fails to decode still counts as
// accepted: the envelope reports success and err carries the decode error.
func invalidated[T any](ctx context.Context, tc *transport.Client, resp *transport.Response[T], err error, collections ...string) (*transport.Response[T], error) {
	if resp == nil || !resp.Success {
		return resp, err
	}
	for _, c := range collections {
		// The pattern is built from a quoted literal and always compiles.
		_, _ = tc.InvalidateCache(ctx, InvalidationPattern(c))
	}
	return resp, err
}

// InvalidationPattern is the cache pattern covering every GET under
// collection.
func InvalidationPattern(collection string) string {
	return "^GET:" + regexp.QuoteMeta(collection)
}
