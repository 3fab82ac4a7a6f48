package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/flipsyde/catalogsync/internal/domain"
	"github.com/flipsyde/catalogsync/internal/platform/envutil"
	"github.com/flipsyde/catalogsync/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.Str("POSTGRES_HOST", "localhost")
	port := envutil.Str("POSTGRES_PORT", "5432")
	user := envutil.Str("POSTGRES_USER", "postgres")
	password := envutil.Str("POSTGRES_PASSWORD", "")
	name := envutil.Str("POSTGRES_NAME", "catalogsync")
	sslmode := envutil.Str("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)

	log.Info("Connecting to Postgres...", "host", host, "database", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	for _, ext := range []string{"uuid-ossp", "vector"} {
		if err := gdb.Exec(fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %q;`, ext)).Error; err != nil {
			return nil, fmt.Errorf("failed to enable %s extension: %w", ext, err)
		}
	}
	serviceLog.Info("Extensions enabled", "extensions", "uuid-ossp, vector")

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating catalog tables...")
	if err := s.db.AutoMigrate(
		&domain.Product{},
		&domain.ProductMapping{},
	); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}

// EnsureVectorIndex creates the approximate nearest-neighbour index over
// product embeddings. List count scales with table size; ivfflat wants
// roughly rows/1000 with sane floors and ceilings.
func (s *PostgresService) EnsureVectorIndex() error {
	var rows int64
	if err := s.db.Model(&domain.Product{}).Where("embedding IS NOT NULL").Count(&rows).Error; err != nil {
		return fmt.Errorf("count embedded products: %w", err)
	}

	lists := int(rows / 1000)
	if lists < 10 {
		lists = 10
	}
	if lists > 1000 {
		lists = 1000
	}

	s.log.Info("Creating vector index...", "rows", rows, "lists", lists)
	sql := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS ix_product_embedding_cosine
		ON product
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)
	`, lists)
	if err := s.db.Exec(sql).Error; err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
