// Package postgresql implements the repository surface of the check-in
// consumer on top of pgx. All check-in mutations run inside one transaction
// per message; row locks (SELECT ... FOR UPDATE) plus the redis guid lock
// guarantee at most one writer per check-in.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/checkin"
	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

// PgxIface is the subset of pgxpool.Pool the repositories use. pgxmock
// substitutes for it in tests.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type Connection struct {
	Db           PgxIface
	projectCache *lru.ARCCache
}

var conn *Connection
var once sync.Once

func GetOrInit() *Connection {
	once.Do(func() {
		zap.S().Debugf("Setting up postgresql")
		PQHost, err := env.GetAsString("POSTGRES_HOST", false, "db")
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_HOST from env: %s", err)
		}
		PQPort, err := env.GetAsInt("POSTGRES_PORT", false, 5432)
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_PORT from env: %s", err)
		}
		PQUser, err := env.GetAsString("POSTGRES_USER", true, "")
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_USER from env: %s", err)
		}
		PQPassword, err := env.GetAsString("POSTGRES_PASSWORD", true, "")
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_PASSWORD from env: %s", err)
		}
		PQDBName, err := env.GetAsString("POSTGRES_DATABASE", true, "")
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_DATABASE from env: %s", err)
		}
		PQSSLMode, err := env.GetAsString("POSTGRES_SSL_MODE", false, "require")
		if err != nil {
			zap.S().Fatalf("Failed to get POSTGRES_SSL_MODE from env: %s", err)
		}

		zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", PQUser, PQHost, PQPort, PQDBName, PQSSLMode)

		conString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			PQHost, PQPort, PQUser, PQPassword, PQDBName, PQSSLMode)

		establishCtx, establishCncl := get5SecondContext()
		defer establishCncl()
		db, err := pgxpool.New(establishCtx, conString)
		if err != nil {
			zap.S().Fatalf("Failed to open connection to postgres database: %s", err)
		}

		cacheSize, err := env.GetAsInt("PROJECT_LRU_CACHE_SIZE", false, 1000)
		if err != nil {
			zap.S().Fatalf("Failed to get PROJECT_LRU_CACHE_SIZE from env: %s", err)
		}
		projectCache, err := lru.NewARC(cacheSize)
		if err != nil {
			zap.S().Fatalf("Failed to create project cache: %s", err)
		}

		conn = &Connection{
			Db:           db,
			projectCache: projectCache,
		}
		if !conn.IsAvailable() {
			zap.S().Fatalf("Database is not available !")
		}

		// Validate that tables exist
		checkCtx, checkCncl := get5SecondContext()
		defer checkCncl()
		tablesToCheck := []string{"projects", "monitors", "monitor_environments", "monitor_checkins"}
		for _, table := range tablesToCheck {
			var tableName string
			query := `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
			row := db.QueryRow(checkCtx, query, table)
			if err := row.Scan(&tableName); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					zap.S().Fatalf("Table %s does not exist in the database", table)
				} else {
					zap.S().Fatalf("Failed to check for table %s: %s", table, err)
				}
			}
		}
	})
	return conn
}

func (c *Connection) IsAvailable() bool {
	if c.Db == nil {
		return false
	}
	ctx, cncl := get5SecondContext()
	defer cncl()
	if err := c.Db.Ping(ctx); err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		return false
	}
	return true
}

// GetProject resolves a project to its organization, caching the result.
// Projects are immutable from this consumer's point of view.
func (c *Connection) GetProject(ctx context.Context, projectID int64) (*shared.Project, error) {
	if cached, hit := c.projectCache.Get(projectID); hit {
		return cached.(*shared.Project), nil
	}

	project := shared.Project{ID: projectID}
	err := c.Db.QueryRow(ctx,
		`SELECT organization_id FROM projects WHERE id = $1`,
		projectID,
	).Scan(&project.OrganizationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", projectID, shared.ErrNotFound)
		}
		return nil, err
	}

	c.projectCache.Add(projectID, &project)
	return &project, nil
}

// InTransaction runs fn inside one transaction: the unit of work wrapping the
// resolver calls and the state-machine write+propagate step. Either all of it
// commits or all of it rolls back.
func (c *Connection) InTransaction(ctx context.Context, fn func(tx checkin.Tx) error) error {
	pgtx, err := c.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Tx{tx: pgtx}); err != nil {
		if errR := pgtx.Rollback(ctx); errR != nil {
			zap.S().Errorf("Error rolling back transaction: %v", errR)
		}
		return err
	}

	return pgtx.Commit(ctx)
}

// Tx adapts one pgx transaction to the repository surface the state machine
// drives.
type Tx struct {
	tx pgx.Tx
}

func GetHealthCheck() healthcheck.Check {
	return func() error {
		if GetOrInit().IsAvailable() {
			return nil
		}
		return errors.New("healthcheck failed to reach database")
	}
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
