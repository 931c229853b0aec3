package db

import (
	"context"
	"fmt"
	stdlog "log"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/workbook-backend/internal/platform/envutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	// ConnectTimeout bounds the whole retry loop of Open.
	ConnectTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int
}

func ConfigFromEnv() Config {
	return Config{
		Host:           envutil.String("POSTGRES_HOST", "localhost"),
		Port:           envutil.String("POSTGRES_PORT", "5432"),
		User:           envutil.String("POSTGRES_USER", "postgres"),
		Password:       envutil.String("POSTGRES_PASSWORD", ""),
		Name:           envutil.String("POSTGRES_NAME", "workbook"),
		SSLMode:        envutil.String("POSTGRES_SSLMODE", "disable"),
		ConnectTimeout: envutil.Seconds("POSTGRES_CONNECT_TIMEOUT_SECONDS", 30*time.Second),
		MaxOpenConns:   envutil.Int("POSTGRES_MAX_OPEN_CONNS", 20),
		MaxIdleConns:   envutil.Int("POSTGRES_MAX_IDLE_CONNS", 5),
	}
}

func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Open connects to Postgres, retrying with exponential backoff until the database
// answers a ping or ConnectTimeout elapses.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*gorm.DB, error) {
	log = log.With("service", "Postgres")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var conn *gorm.DB
	attempt := 0
	op := func() error {
		attempt++
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLog,
		})
		if err != nil {
			log.Warn("postgres connect failed", "attempt", attempt, "error", err)
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(pingCtx); err != nil {
			_ = sqlDB.Close()
			log.Warn("postgres ping failed", "attempt", attempt, "error", err)
			return err
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		conn = db
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connect postgres %s:%s/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}
	log.Info("postgres connected", "attempts", attempt)
	return conn, nil
}
