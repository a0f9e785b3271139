package rcs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/backkem/rcs/pkg/sharing"
	"github.com/backkem/rcs/pkg/transport"
	"github.com/backkem/rcs/pkg/xdm"
	"github.com/pion/logging"
)

// StorageLimits reports admission limits for content stored under Dir.
type StorageLimits struct {
	Dir     string
	MaxSize int64
}

// MaxTransferSize returns the configured maximum, 0 for unlimited.
func (l StorageLimits) MaxTransferSize() int64 { return l.MaxSize }

// FreeStorage returns the free bytes on the filesystem holding Dir.
func (l StorageLimits) FreeStorage() int64 { return freeSpace(l.Dir) }

var _ sharing.Limits = StorageLimits{}

// StackConfig holds the collaborators of a Stack. Config carries the
// file-level settings.
type StackConfig struct {
	// Config is the loaded configuration. Required.
	Config *Config

	// Signaling carries SIP messages. Required.
	Signaling sharing.Signaling

	// Capabilities answers contact feature questions. Optional.
	Capabilities sharing.Capabilities

	// Sink stores received content.
	// Default: a FileSink in Config.Sharing.StorageDir
	Sink sharing.ContentSink

	// Limits feed admission control.
	// Default: StorageLimits on the storage directory
	Limits sharing.Limits

	// Factory opens media and XCAP connections.
	// Default: a transport.NetFactory
	Factory transport.Factory

	// OnIncoming is called for each incoming sharing session.
	OnIncoming func(s *sharing.Session)

	// OnStateChanged is called after each lifecycle transition.
	OnStateChanged func(StackState)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Stack ties the content-sharing manager and the document-sync client to
// one configuration and lifecycle.
type Stack struct {
	config StackConfig
	log    logging.LeveledLogger

	sharing *sharing.Manager
	xdm     *xdm.Client

	mu    sync.RWMutex
	state StackState
}

// NewStack creates a stack. The sharing manager accepts invitations as
// soon as it exists so that signaling can be connected before Start.
func NewStack(config StackConfig) (*Stack, error) {
	if config.Config == nil {
		return nil, fmt.Errorf("rcs: config required")
	}
	if err := config.Config.Validate(); err != nil {
		return nil, err
	}
	if config.Signaling == nil {
		return nil, ErrSignalingRequired
	}
	cfg := config.Config
	if config.Factory == nil {
		config.Factory = transport.NewNetFactory(transport.NetConfig{LoggerFactory: config.LoggerFactory})
	}
	if config.Sink == nil {
		config.Sink = sharing.NewFileSink(cfg.Sharing.StorageDir)
	}
	if config.Limits == nil {
		config.Limits = StorageLimits{Dir: cfg.Sharing.StorageDir, MaxSize: cfg.Sharing.MaxSize}
	}

	s := &Stack{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("rcs")
	}

	mc := cfg.SharingManagerConfig()
	mc.Signaling = config.Signaling
	mc.Capabilities = config.Capabilities
	mc.Sink = config.Sink
	mc.Limits = config.Limits
	mc.Factory = config.Factory
	mc.OnIncoming = config.OnIncoming
	mc.LoggerFactory = config.LoggerFactory
	m, err := sharing.NewManager(mc)
	if err != nil {
		return nil, err
	}
	s.sharing = m

	if cfg.XDM.Enabled() {
		xc := cfg.XDMClientConfig()
		xc.Factory = config.Factory
		xc.LoggerFactory = config.LoggerFactory
		c, err := xdm.NewClient(xc)
		if err != nil {
			return nil, err
		}
		s.xdm = c
	}
	return s, nil
}

// Start prepares the storage directory and, if configured, provisions
// the presence documents.
func (s *Stack) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.CanStart() {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidState, st)
	}
	s.state = StackStateStarting
	s.mu.Unlock()
	s.notify(StackStateStarting)

	if _, ok := s.config.Sink.(*sharing.FileSink); ok {
		if err := os.MkdirAll(s.config.Config.Sharing.StorageDir, 0o755); err != nil {
			s.setState(StackStateInitialized)
			return fmt.Errorf("rcs: storage dir: %w", err)
		}
	}

	if s.xdm != nil && s.config.Config.XDM.InitializeOnStart {
		if err := s.xdm.Initialize(ctx); err != nil {
			s.setState(StackStateInitialized)
			return fmt.Errorf("rcs: xdm initialize: %w", err)
		}
	}

	s.setState(StackStateRunning)
	if s.log != nil {
		s.log.Infof("stack started for %s", s.config.Config.Identity)
	}
	return nil
}

// Stop aborts live sessions and waits for them to end or ctx to expire.
func (s *Stack) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.CanStop() {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, st)
	}
	s.state = StackStateStopping
	s.mu.Unlock()
	s.notify(StackStateStopping)

	err := s.sharing.Close(ctx)

	s.setState(StackStateStopped)
	if s.log != nil {
		s.log.Info("stack stopped")
	}
	return err
}

func (s *Stack) setState(st StackState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.notify(st)
}

func (s *Stack) notify(st StackState) {
	if s.config.OnStateChanged != nil {
		s.config.OnStateChanged(st)
	}
}

// State returns the lifecycle state.
func (s *Stack) State() StackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config returns the loaded configuration.
func (s *Stack) Config() *Config {
	return s.config.Config
}

// Sharing returns the content-sharing manager.
func (s *Stack) Sharing() *sharing.Manager {
	return s.sharing
}

// XDM returns the document-sync client.
func (s *Stack) XDM() (*xdm.Client, error) {
	if s.xdm == nil {
		return nil, ErrNoXDM
	}
	return s.xdm, nil
}

// ShareFile starts sharing the file at path with remote. The encoding is
// guessed from the file extension when empty.
func (s *Stack) ShareFile(ctx context.Context, remote, path, encoding string, listeners ...sharing.Listener) (*sharing.Session, error) {
	if st := s.State(); st != StackStateRunning {
		return nil, fmt.Errorf("%w: share in %s", ErrInvalidState, st)
	}
	content, err := sharing.NewFileContent(path, encoding)
	if err != nil {
		return nil, err
	}
	return s.sharing.InitiateSharing(ctx, remote, content, nil, listeners...)
}
