package chat

import (
	"fmt"

	domain "github.com/example/marketplace-chat/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase opens the SQLite database at path and migrates the chat schema.
func OpenDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases shared across goroutines.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Conversation{}, &domain.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
