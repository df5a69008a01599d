package nanohttp

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// DefaultMemoryLimit is the number of bytes an entity keeps in memory before
// it is spooled to a temporary file.
const DefaultMemoryLimit = 1024

// Entity is one named piece of a request body: a multipart part, or the raw
// body of a PUT or POST request.
type Entity interface {
	io.Writer

	// Name is the form field name, or "content" / "postData" for raw bodies.
	Name() string
	// ContentType is the declared content type, possibly empty.
	ContentType() string
	// FileName is the client side file name of an upload, possibly empty.
	FileName() string
	// Size returns the number of bytes written so far.
	Size() int64
	// Open returns a reader over the entity contents from the start.
	Open() (io.ReadCloser, error)
	// Bytes returns the full contents. It reads spooled files into memory.
	Bytes() ([]byte, error)
	// Path returns the backing temp file, or "" for in-memory entities.
	Path() string
}

// BodyStore holds the entities of exactly one request.
//
// Clear must be called once the request is done, on every path. It removes
// every temp file the store created.
type BodyStore interface {
	// CreateEntity returns a new writable entity. sizeHint is the expected
	// size, or -1 if unknown.
	CreateEntity(name, contentType, fileName string, sizeHint int64) (Entity, error)
	// Put registers e under its name, replacing any previous entity.
	Put(e Entity)
	// Entity returns the entity registered under name.
	Entity(name string) (Entity, bool)
	// Entities returns the registered entities in insertion order.
	Entities() []Entity
	// Clear drops every entity and deletes their temp files.
	Clear()
}

// BodyStoreFactory creates one BodyStore per request.
type BodyStoreFactory interface {
	NewBodyStore() BodyStore
}

// BodyStoreFactoryFunc adapts a function to BodyStoreFactory.
type BodyStoreFactoryFunc func() BodyStore

func (f BodyStoreFactoryFunc) NewBodyStore() BodyStore {
	return f()
}

// DefaultBodyStoreFactory creates DefaultBodyStore instances.
type DefaultBodyStoreFactory struct {
	// TempDir is the directory for spooled entities. os.TempDir() if empty.
	TempDir string
	// MemoryLimit is the in-memory size of an entity before it is spooled.
	// DefaultMemoryLimit is used if 0. Negative values spool every entity.
	MemoryLimit int
	Logger      *zerolog.Logger
}

func (f *DefaultBodyStoreFactory) NewBodyStore() BodyStore {
	return NewDefaultBodyStore(f.TempDir, f.MemoryLimit, f.Logger)
}

// DefaultBodyStore keeps small entities in pooled memory buffers and spools
// larger ones to temp files.
type DefaultBodyStore struct {
	tempDir     string
	memoryLimit int
	logger      *zerolog.Logger

	order    []string
	entities map[string]*spillEntity
	// every entity ever created, including replaced ones.
	created []*spillEntity
}

// NewDefaultBodyStore returns an empty store. See DefaultBodyStoreFactory for
// the meaning of the arguments.
func NewDefaultBodyStore(tempDir string, memoryLimit int, logger *zerolog.Logger) *DefaultBodyStore {
	if memoryLimit == 0 {
		memoryLimit = DefaultMemoryLimit
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &DefaultBodyStore{
		tempDir:     tempDir,
		memoryLimit: memoryLimit,
		logger:      loggerOrNop(logger),
		entities:    make(map[string]*spillEntity),
	}
}

func (s *DefaultBodyStore) CreateEntity(name, contentType, fileName string, sizeHint int64) (Entity, error) {
	e := &spillEntity{
		name:        name,
		contentType: contentType,
		fileName:    fileName,
		store:       s,
	}
	s.created = append(s.created, e)
	if s.memoryLimit < 0 || sizeHint > int64(s.memoryLimit) {
		if err := e.spill(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *DefaultBodyStore) Put(e Entity) {
	se, ok := e.(*spillEntity)
	if !ok || se.store != s {
		se = &spillEntity{name: e.Name(), contentType: e.ContentType(), fileName: e.FileName(), foreign: e, store: s}
		s.created = append(s.created, se)
	}
	if _, exists := s.entities[se.name]; !exists {
		s.order = append(s.order, se.name)
	}
	s.entities[se.name] = se
}

func (s *DefaultBodyStore) Entity(name string) (Entity, bool) {
	e, ok := s.entities[name]
	if !ok {
		return nil, false
	}
	return e.unwrap(), true
}

func (s *DefaultBodyStore) Entities() []Entity {
	es := make([]Entity, 0, len(s.order))
	for _, name := range s.order {
		es = append(es, s.entities[name].unwrap())
	}
	return es
}

// TempFiles returns the paths of the temp files currently owned by the store.
func (s *DefaultBodyStore) TempFiles() []string {
	var paths []string
	for _, e := range s.created {
		if e.file != nil {
			paths = append(paths, e.file.Name())
		}
	}
	return paths
}

func (s *DefaultBodyStore) Clear() {
	for _, e := range s.created {
		if err := e.release(); err != nil {
			s.logger.Warn().Err(err).Str("entity", e.name).Msg("cannot delete temp file")
		}
	}
	clear(s.created)
	s.created = s.created[:0]
	clear(s.entities)
	s.order = s.order[:0]
}

// spillEntity starts in a pooled buffer and moves to a temp file once it
// grows past the store's memory limit.
type spillEntity struct {
	name        string
	contentType string
	fileName    string

	store *DefaultBodyStore
	buf   *bytebufferpool.ByteBuffer
	file  *os.File
	size  int64

	// set when an entity of another store implementation was Put.
	foreign Entity
}

func (e *spillEntity) unwrap() Entity {
	if e.foreign != nil {
		return e.foreign
	}
	return e
}

func (e *spillEntity) Name() string        { return e.name }
func (e *spillEntity) ContentType() string { return e.contentType }
func (e *spillEntity) FileName() string    { return e.fileName }
func (e *spillEntity) Size() int64         { return e.size }

func (e *spillEntity) Path() string {
	if e.file == nil {
		return ""
	}
	return e.file.Name()
}

func (e *spillEntity) Write(p []byte) (int, error) {
	if e.file == nil && e.store.memoryLimit >= 0 && e.size+int64(len(p)) > int64(e.store.memoryLimit) {
		if err := e.spill(); err != nil {
			return 0, err
		}
	}
	if e.file != nil {
		n, err := e.file.Write(p)
		e.size += int64(n)
		return n, err
	}
	if e.buf == nil {
		e.buf = bytebufferpool.Get()
	}
	n, _ := e.buf.Write(p)
	e.size += int64(n)
	return n, nil
}

func (e *spillEntity) spill() error {
	f, err := os.CreateTemp(e.store.tempDir, "nanohttp-*")
	if err != nil {
		return errors.Wrap(err, "cannot create temp file")
	}
	if e.buf != nil {
		if _, err = f.Write(e.buf.B); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return errors.Wrap(err, "cannot spool entity to temp file")
		}
		bytebufferpool.Put(e.buf)
		e.buf = nil
	}
	e.file = f
	return nil
}

func (e *spillEntity) Open() (io.ReadCloser, error) {
	if e.file == nil {
		var b []byte
		if e.buf != nil {
			b = e.buf.B
		}
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	f, err := os.Open(e.file.Name())
	if err != nil {
		return nil, errors.Wrap(err, "cannot open spooled entity")
	}
	return f, nil
}

func (e *spillEntity) Bytes() ([]byte, error) {
	if e.file == nil {
		if e.buf == nil {
			return nil, nil
		}
		return e.buf.B, nil
	}
	return os.ReadFile(e.file.Name())
}

func (e *spillEntity) release() error {
	if e.buf != nil {
		bytebufferpool.Put(e.buf)
		e.buf = nil
	}
	if e.file == nil {
		return nil
	}
	name := e.file.Name()
	errClose := e.file.Close()
	e.file = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	if errClose != nil && !errors.Is(errClose, os.ErrClosed) {
		return errClose
	}
	return nil
}
