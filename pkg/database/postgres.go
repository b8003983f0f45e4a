package database

import (
	"fmt"
	"time"

	"cipherchat/config"
	"cipherchat/internal/domain/chat"
	"cipherchat/internal/domain/keys"
	"cipherchat/internal/domain/message"
	"cipherchat/internal/domain/user"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&user.User{},
		&user.Device{},
		&keys.IdentityKey{},
		&keys.SignedPreKey{},
		&keys.OneTimePreKey{},
		&chat.Chat{},
		&chat.Participant{},
		&chat.Sequence{},
		&message.Message{},
		&message.MessageReaction{},
		&message.MessageRead{},
		&message.ModerationLog{},
	)
}
