package db

import (
	"time"

	"chatgateway/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 建立到 Postgres 的连接，带简单重试以等待数据库就绪。
func Connect(dsn string) (*gorm.DB, error) {
	return connect(dsn, 10)
}

func connect(dsn string, attempts int) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < attempts; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if err2 = sqlDB.Ping(); err2 == nil {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
					sqlDB.SetConnMaxLifetime(time.Hour)
					return gdb, nil
				}
			}
			err = err2
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(500+i*200) * time.Millisecond)
		}
	}
	return nil, err
}

// ConnectOnce 只尝试一次，测试中用于快速判断数据库是否可用。
func ConnectOnce(dsn string) (*gorm.DB, error) {
	return connect(dsn, 1)
}

// Migrate 迁移身份目录需要的表结构；消息与会话只保存在内存中。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{})
}
