package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db      *gorm.DB
	dbReady atomic.Bool
)

func GetDB() *gorm.DB {
	return db
}

// IsDBReady reports whether ConnectDatabaseWithRetry has finished.
func IsDBReady() bool {
	return dbReady.Load()
}

func init() {
	_ = godotenv.Load()
}

// mysqlDSN builds the connection string from DB_* env. A DB_HOST under
// /cloudsql/ is dialed as the Cloud SQL proxy unix socket.
func mysqlDSN() string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	host := os.Getenv("DB_HOST")
	if strings.HasPrefix(host, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = host
	} else {
		cfg.Net = "tcp"
		cfg.Addr = host + ":" + stringFromEnv("DB_PORT", "3306")
	}
	return cfg.FormatDSN()
}

func tunePool(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50); maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25); maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if life := intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300); life > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(life) * time.Second)
	}
}

// ConnectDatabaseWithRetry blocks until MySQL accepts a connection, then sets
// the global DB. Call it after the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	dsn := mysqlDSN()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			tunePool(conn)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				LogError(logg, "config", "ConnectDatabaseWithRetry", "install otelgorm", nil, pluginErr)
			}
			if pluginErr := InstallOrgScope(conn); pluginErr != nil {
				LogError(logg, "config", "ConnectDatabaseWithRetry", "install org scope", nil, pluginErr)
			}
			SetDB(conn)
			logg.WithFields(logrus.Fields{"attempt": attempt}).Info("connected to database")
			return
		}
		wait := min(time.Second<<min(attempt, 5), 30*time.Second)
		LogWarn(logg, "config", "ConnectDatabaseWithRetry", "connect", attempt, fmt.Sprintf("%v; retrying in %s", err, wait))
		time.Sleep(wait)
	}
}

// SetDB replaces the global handle. Tests and CLI tools use it with their own connection.
func SetDB(conn *gorm.DB) {
	db = conn
	dbReady.Store(conn != nil)
}

// GormConfig is the shared gorm configuration for every dialect we open.
func GormConfig() *gorm.Config {
	return initConfig()
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func initLog() logger.Interface {
	return logger.New(
		logg,
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
