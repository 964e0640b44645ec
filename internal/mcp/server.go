package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emuforge/emuforge/internal/emulator"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/hub"
)

// Server wraps the MCP SDK server and exposes emulator query tools.
type Server struct {
	server *sdk.Server
	store  *hub.Store
	loader *emulator.Loader

	// Loaded emulators are content-addressed and immutable, so they
	// are cached by digest for the lifetime of the serve session.
	mu     sync.Mutex
	loaded map[fingerprint.Digest]*emulator.Emulator
}

// Config holds server configuration.
type Config struct {
	Name     string // Server name (e.g., "emuforge")
	Version  string // Server version
	StoreDir string // Local store root
	HubURL   string // Remote hub base URL; empty disables the fallback
}

// NewServer creates a new MCP server backed by the local store and,
// when configured, a remote hub.
func NewServer(cfg *Config) (*Server, error) {
	store, err := hub.NewStore(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	loader := &emulator.Loader{Store: store}
	if cfg.HubURL != "" {
		loader.Hub = &hub.Client{BaseURL: cfg.HubURL}
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			// Client initialized, ready to serve
		},
	})

	s := &Server{
		server: mcpServer,
		store:  store,
		loader: loader,
		loaded: make(map[fingerprint.Digest]*emulator.Emulator),
	}

	if err := s.registerTools(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if err := s.registerResources(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.store.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	return s.store.Close()
}

// load resolves name and returns a query-ready emulator, reusing a
// previously decoded one when the name still points at the same digest.
func (s *Server) load(ctx context.Context, name string) (*emulator.Emulator, error) {
	if entry, err := s.store.Resolve(ctx, name); err == nil && entry != nil {
		s.mu.Lock()
		em, ok := s.loaded[entry.Digest]
		s.mu.Unlock()
		if ok {
			return em, nil
		}
	}

	em, err := s.loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loaded[em.Digest] = em
	s.mu.Unlock()
	return em, nil
}
