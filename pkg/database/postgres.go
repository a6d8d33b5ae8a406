package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	migrateV4 "github.com/golang-migrate/migrate/v4"
	migratePostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq" // драйвер "postgres" для database/sql (миграции)
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yourusername/qbank-api/pkg/logger"
)

// NewPostgresDB создает новое подключение к PostgreSQL.
// В режиме production gorm логирует только ошибки.
func NewPostgresDB(dsn string, production bool) (*gorm.DB, error) {
	level := gormLogger.Info
	if production {
		level = gormLogger.Error
	}
	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Настройка пула соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// NewMigrator создает экземпляр migrate поверх отдельного соединения lib/pq.
// dir - каталог с миграциями (например, "migrations").
func NewMigrator(databaseURL, dir string) (*migrateV4.Migrate, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть соединение для миграций: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("не удалось проверить подключение к БД перед миграцией: %w", err)
	}
	return newMigrator(sqlDB, dir)
}

func newMigrator(sqlDB *sql.DB, dir string) (*migrateV4.Migrate, error) {
	driver, err := migratePostgres.WithInstance(sqlDB, &migratePostgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("не удалось создать драйвер postgres для migrate: %w", err)
	}
	m, err := migrateV4.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать экземпляр migrate: %w", err)
	}
	return m, nil
}

// MigrateDB применяет SQL-миграции из каталога dir через соединение gorm
func MigrateDB(db *gorm.DB, dir string, log *logger.Logger) error {
	log = logger.OrNop(log)
	log.Infof("[Database] Запуск применения миграций из %s...", dir)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("не удалось получить *sql.DB из *gorm.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("не удалось проверить подключение к БД перед миграцией: %w", err)
	}

	m, err := newMigrator(sqlDB, dir)
	if err != nil {
		return err
	}
	return Up(m, log)
}

// Up применяет миграции "вверх"; отсутствие изменений не является ошибкой
func Up(m *migrateV4.Migrate, log *logger.Logger) error {
	log = logger.OrNop(log)
	err := m.Up()
	switch {
	case errors.Is(err, migrateV4.ErrNoChange):
		log.Infof("[Database] Изменений в миграциях не найдено, база данных уже актуальна.")
	case err != nil:
		return fmt.Errorf("ошибка применения миграций 'up': %w", err)
	default:
		log.Infof("[Database] Миграции успешно применены.")
	}
	return nil
}
