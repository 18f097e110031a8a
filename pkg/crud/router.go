package crud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/edgeflare/crudrouter/pkg/httputil/middleware"
	"github.com/edgeflare/crudrouter/pkg/schema"
	"go.uber.org/zap"
)

// Endpoint identifies one of the six generated routes.
type Endpoint int

const (
	GetAll Endpoint = iota
	GetOne
	Create
	Update
	DeleteOne
	DeleteAll
)

// Endpoints lists every Endpoint in registration order.
var Endpoints = []Endpoint{GetAll, GetOne, Create, Update, DeleteOne, DeleteAll}

var endpointNames = [...]string{"get_all", "get_one", "create", "update", "delete_one", "delete_all"}

func (e Endpoint) String() string {
	if int(e) < len(endpointNames) {
		return endpointNames[e]
	}
	return fmt.Sprintf("Endpoint(%d)", int(e))
}

// ParseEndpoint maps a name such as "get_all" or "getAll" to its Endpoint.
func ParseEndpoint(name string) (Endpoint, error) {
	norm := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	for i, n := range endpointNames {
		if strings.ReplaceAll(n, "_", "") == norm {
			return Endpoint(i), nil
		}
	}
	return 0, fmt.Errorf("crud: unknown endpoint %q", name)
}

// Route configures one generated endpoint. Guards wrap only this endpoint, outermost first.
type Route struct {
	Disabled bool
	Guards   []httputil.Middleware
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrefix sets the path prefix, eg "/potatoes". Defaults to "/" + lower-cased schema name.
func WithPrefix(prefix string) Option {
	return func(g *Generator) { g.prefix = "/" + strings.Trim(prefix, "/") }
}

// WithTable sets the storage table. Defaults to the lower-cased schema name.
func WithTable(table string) Option {
	return func(g *Generator) { g.table = table }
}

// WithPrimaryKey sets the primary key field name. Its type is inferred from the schema.
func WithPrimaryKey(name string) Option {
	return func(g *Generator) { g.pkName = name }
}

// WithCreateSchema overrides the derived create schema.
func WithCreateSchema(s *schema.Schema) Option {
	return func(g *Generator) { g.createSchema = s }
}

// WithUpdateSchema overrides the update schema, which defaults to the full schema.
func WithUpdateSchema(s *schema.Schema) Option {
	return func(g *Generator) { g.updateSchema = s }
}

// WithMaxLimit sets the pagination ceiling. 0 means no ceiling.
func WithMaxLimit(n int) Option {
	return func(g *Generator) { g.maxLimit = n }
}

// WithRoute replaces the configuration of endpoint e.
func WithRoute(e Endpoint, r Route) Option {
	return func(g *Generator) { g.routes[e] = r }
}

// Disable turns off the given endpoints.
func Disable(endpoints ...Endpoint) Option {
	return func(g *Generator) {
		for _, e := range endpoints {
			r := g.routes[e]
			r.Disabled = true
			g.routes[e] = r
		}
	}
}

// WithGuards appends guard middleware to endpoint e.
func WithGuards(e Endpoint, guards ...httputil.Middleware) Option {
	return func(g *Generator) {
		r := g.routes[e]
		r.Guards = append(r.Guards, guards...)
		g.routes[e] = r
	}
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// Generator registers the six resource endpoints for a schema. It only composes:
// every endpoint opens a request-scoped session, hands it to the Backend and
// renders the result.
type Generator struct {
	schema       *schema.Schema
	createSchema *schema.Schema
	updateSchema *schema.Schema
	prefix       string
	table        string
	pkName       string
	maxLimit     int
	routes       map[Endpoint]Route
	logger       *zap.Logger

	backend  *Backend
	paginate PaginationFunc
}

// New builds a Generator for s whose sessions come from strategy.
func New(s *schema.Schema, strategy Strategy, opts ...Option) (*Generator, error) {
	if s == nil {
		return nil, errors.New("crud: schema is required")
	}

	g := &Generator{
		schema: s,
		prefix: "/" + strings.ToLower(s.Name()),
		pkName: DefaultPrimaryKey,
		routes: make(map[Endpoint]Route, len(Endpoints)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	backend, err := NewBackend(BackendConfig{
		Name:       strings.Trim(g.prefix, "/"),
		Schema:     s,
		PrimaryKey: PrimaryKey{Name: g.pkName},
		Table:      g.table,
		Strategy:   strategy,
		Logger:     g.logger,
	})
	if err != nil {
		return nil, err
	}
	g.backend = backend

	if g.createSchema == nil {
		g.createSchema = DeriveCreateSchema(s, g.pkName, "Create")
	}
	if g.updateSchema == nil {
		g.updateSchema = s
	}
	g.paginate = NewPaginationValidator(g.maxLimit)

	return g, nil
}

func (g *Generator) Backend() *Backend            { return g.backend }
func (g *Generator) Prefix() string               { return g.prefix }
func (g *Generator) CreateSchema() *schema.Schema { return g.createSchema }
func (g *Generator) UpdateSchema() *schema.Schema { return g.updateSchema }
func (g *Generator) Enabled(e Endpoint) bool      { return !g.routes[e].Disabled }
func (g *Generator) PrimaryKey() PrimaryKey       { return g.backend.PrimaryKey() }
func (g *Generator) Pagination() PaginationFunc   { return g.paginate }

// Register adds every enabled endpoint to r under the generator's prefix. A
// root prefix ("/") serves the collection at "/" and items at "/{item_id}".
func (g *Generator) Register(r *httputil.Router) {
	p := strings.TrimSuffix(g.prefix, "/")
	collection := func(method string, h http.Handler) {
		if p != "" {
			r.Handle(method+" "+p, h)
		}
		r.Handle(method+" "+p+"/{$}", h)
	}
	for _, e := range Endpoints {
		if g.routes[e].Disabled {
			continue
		}
		h := g.handler(e)
		switch e {
		case GetAll:
			collection(http.MethodGet, h)
		case Create:
			collection(http.MethodPost, h)
		case DeleteAll:
			collection(http.MethodDelete, h)
		case GetOne:
			r.Handle("GET "+p+"/{item_id}", h)
		case Update:
			r.Handle("PUT "+p+"/{item_id}", h)
		case DeleteOne:
			r.Handle("DELETE "+p+"/{item_id}", h)
		}
		g.logger.Debug("registered endpoint", zap.String("endpoint", e.String()), zap.String("prefix", g.prefix))
	}
}

// operation is the endpoint logic run against an open session.
type operation func(ctx context.Context, s SyncSession) (any, error)

func (g *Generator) handler(e Endpoint) http.Handler {
	status := http.StatusOK
	if e == Create {
		status = http.StatusCreated
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, err := g.bind(e, r)
		if err != nil {
			g.fail(w, r, e, err)
			return
		}

		out, err := g.serve(r.Context(), op)
		if err != nil {
			g.fail(w, r, e, err)
			return
		}
		httputil.JSON(w, status, out)
	})

	return middleware.Chain(h, g.routes[e].Guards...)
}

// serve runs op on a fresh session and releases it on every exit path.
func (g *Generator) serve(ctx context.Context, op operation) (any, error) {
	s, err := g.backend.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			g.logger.Warn("closing session", zap.Error(err))
		}
	}()
	return op(ctx, s)
}

// bind parses the request inputs of endpoint e and returns the operation to run.
func (g *Generator) bind(e Endpoint, r *http.Request) (operation, error) {
	b := g.backend

	switch e {
	case GetAll:
		p, err := g.paginate(r)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s SyncSession) (any, error) { return b.List(ctx, s, p) }, nil

	case GetOne:
		key, err := b.pk.Parse(r.PathValue("item_id"))
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s SyncSession) (any, error) { return b.Get(ctx, s, key) }, nil

	case Create:
		in, err := decodeBody(r, g.createSchema)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s SyncSession) (any, error) { return b.Create(ctx, s, in) }, nil

	case Update:
		key, err := b.pk.Parse(r.PathValue("item_id"))
		if err != nil {
			return nil, err
		}
		in, err := decodeBody(r, g.updateSchema)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s SyncSession) (any, error) { return b.Update(ctx, s, key, in) }, nil

	case DeleteOne:
		key, err := b.pk.Parse(r.PathValue("item_id"))
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s SyncSession) (any, error) { return b.Delete(ctx, s, key) }, nil

	case DeleteAll:
		return func(ctx context.Context, s SyncSession) (any, error) { return b.DeleteAll(ctx, s) }, nil
	}
	return nil, fmt.Errorf("crud: unknown endpoint %d", int(e))
}

func decodeBody(r *http.Request, s *schema.Schema) (Record, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		return nil, &schema.ValidationError{
			Schema: s.Name(),
			Issues: []schema.Issue{{Loc: []string{"body"}, Msg: msg, Type: "value_error.jsondecode"}},
		}
	}

	rec, err := s.Flatten(payload)
	if err != nil {
		return nil, err
	}
	return Record(rec), nil
}

func (g *Generator) fail(w http.ResponseWriter, r *http.Request, e Endpoint, err error) {
	if code := StatusCode(err); code >= http.StatusInternalServerError {
		g.logger.Error("request failed",
			zap.String("endpoint", e.String()),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	WriteError(w, err)
}
