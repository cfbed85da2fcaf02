package sink

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Logger is one node of the dotted-name hierarchy. Records dispatched to a
// node go to its handlers and, while Propagate is set, to every ancestor's.
type Logger struct {
	name      string
	parent    *Logger
	handlers  []Handler
	propagate bool
}

// Name returns the dotted name. The root logger's name is empty.
func (l *Logger) Name() string { return l.name }

// Parent returns the enclosing logger, or nil for the root.
func (l *Logger) Parent() *Logger { return l.parent }

// Handlers returns the handlers attached to this node.
func (l *Logger) Handlers() []Handler { return l.handlers }

// Propagate reports whether records continue to the parent.
func (l *Logger) Propagate() bool { return l.propagate }

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// LastResort receives records that reach no handler at all. Nil means
	// a stderr handler for WARNING and above.
	LastResort Handler
	// NoLastResort drops unhandled records instead.
	NoLastResort bool
}

// Registry maps dotted logger names to nodes, created on first use.
// Configure it before dispatching; Dispatch and Close may then run
// concurrently with Logger lookups.
type Registry struct {
	mu         sync.Mutex
	root       *Logger
	loggers    map[string]*Logger
	lastResort Handler
	closed     bool
}

// NewRegistry returns a registry holding only the root logger.
func NewRegistry(opts RegistryOptions) *Registry {
	last := opts.LastResort
	if last == nil && !opts.NoLastResort {
		last = WithLevel(NewStreamHandler(os.Stderr, StreamOptions{Name: "last-resort", Color: ColorNever}), record.LevelWarning)
	}
	root := &Logger{propagate: true}
	return &Registry{
		root:       root,
		loggers:    map[string]*Logger{record.RootLogger: root},
		lastResort: last,
	}
}

// Root returns the root logger.
func (r *Registry) Root() *Logger {
	return r.root
}

// Logger returns the node for name, creating it and any missing ancestors.
func (r *Registry) Logger(name string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name)
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(name string) *Logger {
	if l, ok := r.loggers[name]; ok {
		return l
	}
	parent := r.root
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		parent = r.lookup(name[:i])
	}
	l := &Logger{name: name, parent: parent, propagate: true}
	r.loggers[name] = l
	return l
}

// AddHandler attaches h to the named logger.
func (r *Registry) AddHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.lookup(name)
	l.handlers = append(l.handlers, h)
}

// SetPropagate sets whether the named logger passes records to its parent.
func (r *Registry) SetPropagate(name string, propagate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(name).propagate = propagate
}

// Names returns every registered logger name, the root included.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		names = append(names, name)
	}
	return names
}

// Dispatch delivers rec to the handlers of its logger and its ancestors.
// A failing or panicking handler does not stop delivery to the others; the
// failures come back joined as *DispatchError values. Dispatch returns
// ErrQueueClosed once the registry is closed.
func (r *Registry) Dispatch(rec *record.Record) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ferrors.NewDispatchError("registry closed", ferrors.ErrQueueClosed).
			WithLogger(rec.DisplayName()).WithRecordID(rec.ID.String())
	}
	var chain []Handler
	for l := r.lookup(rec.LoggerName); l != nil; l = l.parent {
		chain = append(chain, l.handlers...)
		if !l.propagate {
			break
		}
	}
	if len(chain) == 0 && r.lastResort != nil {
		chain = append(chain, r.lastResort)
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range chain {
		if err := safeHandle(h, rec); err != nil {
			errs = append(errs, ferrors.NewDispatchError("handler failed", err).
				WithLogger(rec.DisplayName()).
				WithRecordID(rec.ID.String()).
				WithHandler(handlerName(h)))
		}
	}
	return ferrors.Join(errs...)
}

func safeHandle(h Handler, rec *record.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.Handle(rec)
}

// handlers returns every distinct handler. The caller must hold r.mu.
func (r *Registry) handlers() []Handler {
	seen := make(map[any]bool)
	var out []Handler
	add := func(h Handler) {
		if k := handlerKey(h); !seen[k] {
			seen[k] = true
			out = append(out, h)
		}
	}
	for _, l := range r.loggers {
		for _, h := range l.handlers {
			add(h)
		}
	}
	if r.lastResort != nil {
		add(r.lastResort)
	}
	return out
}

// handlerKey identifies a handler for de-duplication. Func handlers are not
// comparable, so they are keyed by code pointer. Other non-comparable
// values are keyed by what they reference, so copies of one handler value
// attached to several loggers share a key.
func handlerKey(h Handler) any {
	if reflect.TypeOf(h).Comparable() {
		return h
	}
	var b strings.Builder
	writeIdentity(&b, reflect.ValueOf(h))
	return b.String()
}

func writeIdentity(b *strings.Builder, v reflect.Value) {
	fmt.Fprintf(b, "%s(", v.Type())
	switch v.Kind() {
	case reflect.Func, reflect.Map, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		fmt.Fprintf(b, "%#x", v.Pointer())
	case reflect.Slice:
		fmt.Fprintf(b, "%#x/%d/%d", v.Pointer(), v.Len(), v.Cap())
	case reflect.Interface:
		if !v.IsNil() {
			writeIdentity(b, v.Elem())
		}
	case reflect.Struct:
		for i := range v.NumField() {
			writeIdentity(b, v.Field(i))
		}
	case reflect.Array:
		for i := range v.Len() {
			writeIdentity(b, v.Index(i))
		}
	default:
		fmt.Fprintf(b, "%v", v)
	}
	b.WriteByte(')')
}

// Flush flushes every handler, returning the joined failures.
func (r *Registry) Flush() error {
	r.mu.Lock()
	hs := r.handlers()
	r.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if err := h.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", handlerName(h), err))
		}
	}
	return ferrors.Join(errs...)
}

// Close flushes and closes every distinct handler exactly once. Later calls
// do nothing.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	hs := r.handlers()
	r.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if err := h.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", handlerName(h), err))
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", handlerName(h), err))
		}
	}
	return ferrors.Join(errs...)
}
