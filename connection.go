package goftp

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ConnectionManager owns the single transport session and the config
// needed to rebuild it. The config is kept across transport failures and
// Disconnect, so EnsureConnected can reconnect with the last-known settings.
type ConnectionManager struct {
	dialer Dialer
	logger zerolog.Logger

	mu        sync.Mutex
	session   Session
	connected bool
	config    *ConnectionConfig

	// reconnects collapses concurrent EnsureConnected calls into one dial.
	reconnects singleflight.Group
}

// NewConnectionManager creates a manager that opens sessions with dialer.
func NewConnectionManager(dialer Dialer, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		dialer: dialer,
		logger: logger,
	}
}

// Connect opens a new session, closing any current one first.
func (m *ConnectionManager) Connect(ctx context.Context, config ConnectionConfig) error {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return &ConnectionError{Addr: config.Address(), Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	session, err := m.dialer.Dial(ctx, config)
	if err != nil {
		// Never fall back to a previous server's settings.
		m.config = nil
		return &ConnectionError{Addr: config.Address(), Err: err}
	}

	m.session = session
	m.connected = true
	m.config = &config
	m.enterDefaultDir(session, config)

	m.logger.Info().Str("addr", config.Address()).Str("protocol", string(config.Protocol)).Msg("connected")
	return nil
}

// Disconnect closes the session. The config is retained.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *ConnectionManager) closeLocked() error {
	var err error
	if m.session != nil {
		err = m.session.Close()
		m.session = nil
	}
	m.connected = false
	return err
}

// Connected reports whether a live session is held.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.session != nil && !m.session.Closed()
}

// Config returns the last config passed to Connect.
func (m *ConnectionManager) Config() (ConnectionConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return ConnectionConfig{}, false
	}
	return *m.config, true
}

// Invalidate marks the current session as unusable, so the next
// EnsureConnected rebuilds it.
func (m *ConnectionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// EnsureConnected returns a live session, rebuilding it from the stored
// config when it was never opened, dropped, or invalidated. It is a no-op
// when the session is healthy.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) (Session, error) {
	if s := m.liveSession(); s != nil {
		return s, nil
	}

	v, err, _ := m.reconnects.Do("reconnect", func() (any, error) {
		return m.reconnect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

func (m *ConnectionManager) liveSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected && m.session != nil && !m.session.Closed() {
		return m.session
	}
	return nil
}

func (m *ConnectionManager) reconnect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have finished a reconnect while we waited.
	if m.connected && m.session != nil && !m.session.Closed() {
		return m.session, nil
	}
	if m.config == nil {
		return nil, &ConnectionError{Err: ErrNotConnected}
	}
	config := *m.config

	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
	m.connected = false

	m.logger.Warn().Str("addr", config.Address()).Msg("session lost, reconnecting")

	session, err := m.dialer.Dial(ctx, config)
	if err != nil {
		return nil, &ConnectionError{Addr: config.Address(), Err: fmt.Errorf("failed to reconnect: %w", err)}
	}

	m.session = session
	m.connected = true
	m.enterDefaultDir(session, config)
	return session, nil
}

// enterDefaultDir moves into the configured start directory. Failure is
// logged and otherwise ignored.
func (m *ConnectionManager) enterDefaultDir(session Session, config ConnectionConfig) {
	if config.DefaultRemotePath == "" || NormalizeRemotePath(config.DefaultRemotePath) == "/" {
		return
	}
	dir := NormalizeRemotePath(config.DefaultRemotePath)
	if err := session.ChangeDir(dir); err != nil {
		m.logger.Warn().Err(err).Str("dir", dir).Msg("could not enter default remote path")
	}
}
