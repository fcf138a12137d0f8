package db

import (
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/visageapp/visage/internal/chat"
)

// Connect opens the MySQL database and migrates the chat schema.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := gdb.AutoMigrate(&chat.Conversation{}, &chat.Message{}); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}
	return gdb
}
