package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/ankisync/internal/anki"
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/ledger"
	"github.com/starford/ankisync/internal/render"
	"github.com/starford/ankisync/internal/storage"
	"github.com/starford/ankisync/internal/syncservice"
)

// NewLogger builds the structured JSON logger. When cfg.LogFile is set logs
// go to a rotating file, otherwise to w.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

// Services is everything a command needs, built from a Config.
type Services struct {
	Store   *storage.FS
	Client  *anki.Client
	Service *syncservice.Service
	// Root is the absolute notebook directory.
	Root string
	// Target is the notebook or directory to reconcile, relative to Root.
	// Empty means every notebook.
	Target string
	// Deck is the configured deck.
	Deck string

	journal ledger.Journal
}

// NewServices opens storage, the journal and the AnkiConnect client.
func NewServices(cfg *Config, logger *slog.Logger) (*Services, error) {
	root, target, err := splitNotebookPath(cfg.Notebooks.Path)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var journal ledger.Journal = ledger.Nop{}
	if cfg.Ledger.Path != "" {
		db, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		journal = db
	}

	opts := append(cfg.Anki.Options(), anki.WithLogger(logger))
	client := anki.New(cfg.Anki.URL, opts...)
	extractor := flashcard.NewExtractor(render.NewPipeline(cfg.Render.Options()))

	return &Services{
		Store:   store,
		Client:  client,
		Service: syncservice.New(store, client, extractor, journal, logger),
		Root:    store.Root(),
		Target:  target,
		Deck:    cfg.Anki.Deck,
		journal: journal,
	}, nil
}

// Request builds a request for the configured target and deck.
func (s *Services) Request(strict bool) syncservice.Request {
	return syncservice.Request{Deck: s.Deck, Path: s.Target, Strict: strict}
}

// Close releases the journal.
func (s *Services) Close() error {
	return s.journal.Close()
}

// splitNotebookPath turns a notebook path into the store root and the
// target inside it. A single .ipynb file is served from its directory.
func splitNotebookPath(path string) (root, target string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("notebooks path %s: %w", path, err)
		}
		return "", "", err
	}
	if info.IsDir() {
		return path, "", nil
	}
	if !strings.HasSuffix(path, storage.NotebookExt) {
		return "", "", fmt.Errorf("notebooks path %s: not a directory or %s file", path, storage.NotebookExt)
	}
	return filepath.Dir(path), filepath.Base(path), nil
}
