// Package prefix resolves the command prefix of each guild.
package prefix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/store"
)

// ErrInvalid is returned for prefixes that are not a single visible character.
var ErrInvalid = errors.New("prefix must be exactly one non-space character")

// Presence shows the help hint in the bot's status.
type Presence interface {
	SetPresence(ctx context.Context, status string) error
}

// Manager caches guild prefixes in front of the guild store.
type Manager struct {
	def      string
	guilds   store.GuildStore
	presence Presence
	log      *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// New returns a manager. guilds may be nil; every guild then uses def.
func New(def string, guilds store.GuildStore, presence Presence, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		def:      def,
		guilds:   guilds,
		presence: presence,
		log:      log,
		cache:    make(map[string]string),
	}
}

// Default returns the configured default prefix.
func (m *Manager) Default() string { return m.def }

// Validate checks that p can be used as a prefix.
func Validate(p string) error {
	r, size := utf8.DecodeRuneInString(p)
	if size == 0 || size != len(p) || r == utf8.RuneError || unicode.IsSpace(r) {
		return fmt.Errorf("%w: %q", ErrInvalid, p)
	}
	return nil
}

// Get returns the prefix of guildID. Direct messages and stores that cannot be
// read fall back to the default.
func (m *Manager) Get(ctx context.Context, guildID string) string {
	if guildID == "" || m.guilds == nil {
		return m.def
	}

	m.mu.RLock()
	p, ok := m.cache[guildID]
	m.mu.RUnlock()
	if ok {
		return p
	}

	g, err := m.guilds.FindGuild(ctx, guildID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = m.def
	case err != nil:
		m.log.Error("prefix lookup failed, using default", zap.String("guild", guildID), zap.Error(err))
		return m.def
	case g.Prefix == "":
		p = m.def
	default:
		p = g.Prefix
	}

	m.mu.Lock()
	m.cache[guildID] = p
	m.mu.Unlock()
	return p
}

// Set stores a new prefix for guildID and updates the cache once the store
// accepted it.
func (m *Manager) Set(ctx context.Context, guildID, p string) error {
	if err := Validate(p); err != nil {
		return err
	}
	if m.guilds == nil {
		return store.ErrUnavailable
	}
	if err := m.guilds.SetGuildPrefix(ctx, guildID, p); err != nil {
		return fmt.Errorf("set prefix of %s: %w", guildID, err)
	}
	m.showHelpHint(ctx, p)

	m.mu.Lock()
	m.cache[guildID] = p
	m.mu.Unlock()
	return nil
}

// Init warms the cache with every stored guild.
func (m *Manager) Init(ctx context.Context) error {
	defer m.showHelpHint(ctx, m.def)
	if m.guilds == nil {
		return nil
	}
	guilds, err := m.guilds.Guilds(ctx)
	if err != nil {
		return fmt.Errorf("load prefixes: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range guilds {
		if g.Prefix != "" {
			m.cache[g.ID] = g.Prefix
		} else {
			m.cache[g.ID] = m.def
		}
	}
	return nil
}

// Forget drops a guild from the cache.
func (m *Manager) Forget(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, guildID)
}

func (m *Manager) showHelpHint(ctx context.Context, p string) {
	if m.presence == nil {
		return
	}
	if err := m.presence.SetPresence(ctx, p+"help"); err != nil {
		m.log.Warn("presence update failed", zap.Error(err))
	}
}
