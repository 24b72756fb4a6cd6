package migration

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	appconfig "github.com/BaSui01/storyflow/config"
	"go.uber.org/zap"
)

// NewMigratorFromConfig 按数据库配置创建迁移器
func NewMigratorFromConfig(ctx context.Context, dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*SchemaMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(ctx, &Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg),
		TableName:    "schema_migrations",
	}, logger)
}

// BuildDatabaseURL 构造迁移连接串。与 gorm 的 DSN 不同，
// MySQL 需要 multiStatements，PostgreSQL 使用 URL 形式
func BuildDatabaseURL(dbType DatabaseType, c appconfig.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypePostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + strconv.Itoa(c.Port),
			Path:     "/" + c.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String()
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case DatabaseTypeSQLite:
		return SQLiteURL(c.Name)
	default:
		return ""
	}
}

// SQLiteURL 返回开启外键约束的 SQLite 连接串
func SQLiteURL(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)"
}
