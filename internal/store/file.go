package store

import (
	"context"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/salabot/datastore"
)

// guildRecord is everything the file backend keeps for one guild.
type guildRecord struct {
	Guild         Guild          `json:"guild"`
	Grants        []RoleGrant    `json:"grants,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
}

// FileStore implements Store as one JSON document keyed by guild id.
type FileStore struct {
	ds *datastore.Store[guildRecord]
}

// OpenFile opens the JSON file at path, creating it when missing.
func OpenFile(path string, log *zap.Logger) (*FileStore, error) {
	cfg := datastore.DefaultConfig(path)
	if log != nil {
		cfg.Logger = log.Named("datastore")
	}
	ds, err := datastore.Open[guildRecord](cfg)
	if err != nil {
		return nil, err
	}
	return &FileStore{ds: ds}, nil
}

func (s *FileStore) Close() error {
	return s.ds.Close()
}

// update runs fn against the guild's record, creating an empty one when needed.
func (s *FileStore) update(guildID string, fn func(r *guildRecord)) error {
	return s.ds.Update(guildID, func(cur guildRecord, ok bool) (guildRecord, bool) {
		if !ok {
			cur = guildRecord{Guild: Guild{ID: guildID, CreatedAt: time.Now()}}
		}
		cur.Grants = slices.Clone(cur.Grants)
		cur.Subscriptions = slices.Clone(cur.Subscriptions)
		fn(&cur)
		return cur, true
	})
}

func (s *FileStore) FindGuild(_ context.Context, id string) (*Guild, error) {
	r, ok := s.ds.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	g := r.Guild
	return &g, nil
}

func (s *FileStore) Guilds(context.Context) ([]Guild, error) {
	var guilds []Guild
	s.ds.Range(func(_ string, r guildRecord) bool {
		guilds = append(guilds, r.Guild)
		return true
	})
	return guilds, nil
}

func (s *FileStore) UpsertGuild(_ context.Context, g Guild) error {
	return s.update(g.ID, func(r *guildRecord) {
		r.Guild.Name = g.Name
		r.Guild.UpdatedAt = time.Now()
	})
}

func (s *FileStore) DeleteGuild(_ context.Context, id string) error {
	s.ds.Delete(id)
	return nil
}

func (s *FileStore) SetGuildPrefix(_ context.Context, id, prefix string) error {
	return s.update(id, func(r *guildRecord) {
		r.Guild.Prefix = prefix
		r.Guild.UpdatedAt = time.Now()
	})
}

func (s *FileStore) RoleGrants(_ context.Context, guildID string) ([]RoleGrant, error) {
	r, _ := s.ds.Get(guildID)
	grants := slices.Clone(r.Grants)
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Command != grants[j].Command {
			return grants[i].Command < grants[j].Command
		}
		return grants[i].RoleID < grants[j].RoleID
	})
	return grants, nil
}

func (s *FileStore) CommandGrants(ctx context.Context, guildID, command string) ([]RoleGrant, error) {
	all, _ := s.RoleGrants(ctx, guildID)
	var out []RoleGrant
	for _, g := range all {
		if g.Command == command {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *FileStore) AddRoleGrant(_ context.Context, guildID, command, roleID string) (bool, error) {
	created := false
	err := s.update(guildID, func(r *guildRecord) {
		for _, g := range r.Grants {
			if g.Command == command && g.RoleID == roleID {
				return
			}
		}
		r.Grants = append(r.Grants, RoleGrant{GuildID: guildID, Command: command, RoleID: roleID, CreatedAt: time.Now()})
		created = true
	})
	return created, err
}

func (s *FileStore) RemoveRoleGrant(_ context.Context, guildID, command, roleID string) (bool, error) {
	if _, ok := s.ds.Get(guildID); !ok {
		return false, nil
	}
	removed := false
	err := s.update(guildID, func(r *guildRecord) {
		r.Grants = slices.DeleteFunc(r.Grants, func(g RoleGrant) bool {
			match := g.Command == command && g.RoleID == roleID
			removed = removed || match
			return match
		})
	})
	return removed, err
}

func (s *FileStore) Subscriptions(_ context.Context, task string) ([]Subscription, error) {
	var subs []Subscription
	s.ds.Range(func(_ string, r guildRecord) bool {
		for _, sub := range r.Subscriptions {
			if sub.Name == task {
				subs = append(subs, sub)
			}
		}
		return true
	})
	return subs, nil
}

func (s *FileStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	return s.update(sub.GuildID, func(r *guildRecord) {
		r.Subscriptions = slices.DeleteFunc(r.Subscriptions, func(old Subscription) bool {
			return old.Name == sub.Name
		})
		r.Subscriptions = append(r.Subscriptions, *sub)
	})
}

func (s *FileStore) DeleteSubscription(_ context.Context, task, guildID string) error {
	if _, ok := s.ds.Get(guildID); !ok {
		return nil
	}
	return s.update(guildID, func(r *guildRecord) {
		r.Subscriptions = slices.DeleteFunc(r.Subscriptions, func(sub Subscription) bool {
			return sub.Name == task
		})
	})
}

var _ Store = (*FileStore)(nil)
