package db

import (
	"fmt"
	"time"

	"github.com/d1618033/simplechat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect 打开存储数据库。postgres 连接会重试几秒，便于与数据库容器同时启动。
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case DriverPostgres:
		return connectPostgres(dsn)
	case DriverSQLite:
		return connectSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func connectPostgres(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// SQLite 只允许单个写者；单连接保证写串行，也让内存数据库在多次查询间保持存在。
func connectSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Migrate 创建或更新聊天存储用到的所有表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Room{}, &models.Participant{}, &models.Message{}, &models.Session{})
}
