package vigil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource opens sessions over a local JSON batch file watched with
// fsnotify. The file holds the record batch in the same shape the
// coordination service returns, which makes it useful for local development
// and tests without a running server.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given batch file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Open starts watching the file. The current contents are emitted
// immediately to serve as the initial fetch.
func (f *FileSource) Open(ctx context.Context) (Session, error) {
	if f.path == "" {
		return nil, fmt.Errorf("vigil: file source path is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("vigil: failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(f.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("vigil: failed to watch file %s: %w", f.path, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &fileSession{
		path:    f.path,
		changes: make(chan Change),
		errs:    make(chan error),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(sctx, fw)
	return s, nil
}

type fileSession struct {
	path    string
	changes chan Change
	errs    chan error
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	updated time.Time
	once    sync.Once
}

func (s *fileSession) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(s.done)
	defer fw.Close()

	s.emit(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.emit(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}

// emit reads and decodes the batch file. Content that is not valid JSON is
// passed through as a string so the validator reports it as a malformed
// payload instead of the session dying.
func (s *fileSession) emit(ctx context.Context) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		select {
		case s.errs <- err:
		case <-ctx.Done():
		}
		return
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}

	meta := map[string]string{"X-Source-Path": s.path}
	if info, err := os.Stat(s.path); err == nil {
		meta["X-Source-Modified"] = info.ModTime().UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	s.updated = time.Now()
	s.mu.Unlock()

	select {
	case s.changes <- Change{Data: data, Meta: meta}:
	case <-ctx.Done():
	}
}

func (s *fileSession) Changes() <-chan Change { return s.changes }

func (s *fileSession) Errors() <-chan error { return s.errs }

func (s *fileSession) Done() <-chan struct{} { return s.done }

func (s *fileSession) UpdateTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

func (s *fileSession) Close() {
	s.once.Do(s.cancel)
}

var _ Source = (*FileSource)(nil)
