package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SQLStore implements Store on top of gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a sqlite database. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string, log *zap.Logger) (*SQLStore, error) {
	s, err := openSQL(sqlite.Open(path), log)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; a shared connection also keeps :memory: alive.
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

// OpenMySQL opens (and migrates) a mysql database.
func OpenMySQL(dsn string, log *zap.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("store: mysql requires a DSN")
	}
	return openSQL(mysql.Open(dsn), log)
}

func openSQL(dialector gorm.Dialector, log *zap.Logger) (*SQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger: logger.New(
			zap.NewStdLog(log.Named("gorm")),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(&Guild{}, &RoleGrant{}, &Subscription{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) FindGuild(ctx context.Context, id string) (*Guild, error) {
	var g Guild
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLStore) Guilds(ctx context.Context) ([]Guild, error) {
	var guilds []Guild
	err := s.db.WithContext(ctx).Order("id").Find(&guilds).Error
	return guilds, err
}

func (s *SQLStore) UpsertGuild(ctx context.Context, g Guild) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(&g).Error
}

func (s *SQLStore) DeleteGuild(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", id).Delete(&RoleGrant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("guild_id = ?", id).Delete(&Subscription{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Guild{}).Error
	})
}

func (s *SQLStore) SetGuildPrefix(ctx context.Context, id, prefix string) error {
	res := s.db.WithContext(ctx).Model(&Guild{}).Where("id = ?", id).Update("prefix", prefix)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.WithContext(ctx).Create(&Guild{ID: id, Prefix: prefix}).Error
	}
	return nil
}

func (s *SQLStore) RoleGrants(ctx context.Context, guildID string) ([]RoleGrant, error) {
	var grants []RoleGrant
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("command, role_id").Find(&grants).Error
	return grants, err
}

func (s *SQLStore) CommandGrants(ctx context.Context, guildID, command string) ([]RoleGrant, error) {
	var grants []RoleGrant
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND command = ?", guildID, command).
		Order("role_id").
		Find(&grants).Error
	return grants, err
}

func (s *SQLStore) AddRoleGrant(ctx context.Context, guildID, command, roleID string) (bool, error) {
	db := s.db.WithContext(ctx)
	var existing RoleGrant
	err := db.Where("guild_id = ? AND command = ? AND role_id = ?", guildID, command, roleID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := db.Create(&RoleGrant{GuildID: guildID, Command: command, RoleID: roleID}).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) RemoveRoleGrant(ctx context.Context, guildID, command, roleID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("guild_id = ? AND command = ? AND role_id = ?", guildID, command, roleID).
		Delete(&RoleGrant{})
	return res.RowsAffected > 0, res.Error
}

func (s *SQLStore) Subscriptions(ctx context.Context, task string) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.WithContext(ctx).Where("name = ?", task).Order("guild_id").Find(&subs).Error
	return subs, err
}

func (s *SQLStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, task, guildID string) error {
	return s.db.WithContext(ctx).
		Where("name = ? AND guild_id = ?", task, guildID).
		Delete(&Subscription{}).Error
}

var _ Store = (*SQLStore)(nil)
