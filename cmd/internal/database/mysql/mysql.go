package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/de-stash/dump2s3/cmd/internal/utils"

	_ "github.com/go-sql-driver/mysql"
)

const mysqldumpCmd = "mysqldump"

// MySQL implements the database interface for MySQL and MariaDB
type MySQL struct {
	log      *slog.Logger
	host     string
	port     int
	user     string
	password string
	excludes map[string]bool
	executor *utils.CmdExecutor
}

// New instantiates a new mysql database
func New(log *slog.Logger, host string, port int, user string, password string, excludes []string) *MySQL {
	excluded := make(map[string]bool, len(excludes))
	for _, name := range excludes {
		excluded[name] = true
	}

	return &MySQL{
		log:      log,
		host:     host,
		port:     port,
		user:     user,
		password: password,
		excludes: excluded,
		executor: utils.NewExecutor(log),
	}
}

func (db *MySQL) open() (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", db.user, db.password, db.host, db.port)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}
	return conn, nil
}

// Probe figures out if the database is reachable
func (db *MySQL) Probe(ctx context.Context) error {
	conn, err := db.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to mysql failed: %w", err)
	}

	return nil
}

// ListDatabases returns the names of all databases minus the excluded ones
func (db *MySQL) ListDatabases(ctx context.Context) ([]string, error) {
	conn, err := db.open()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning database name: %w", err)
		}
		if db.excludes[name] {
			continue
		}
		databases = append(databases, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	sort.Strings(databases)

	return databases, nil
}

// Dump streams a plain SQL dump of the named database to w
func (db *MySQL) Dump(ctx context.Context, name string, w io.Writer) error {
	args := []string{"--databases", name}
	if db.host != "" {
		args = append(args, "--host="+db.host)
	}
	if db.port != 0 {
		args = append(args, "--port="+strconv.Itoa(db.port))
	}
	if db.user != "" {
		args = append(args, "--user="+db.user)
	}

	var env []string
	if db.password != "" {
		env = append(env, "MYSQL_PWD="+db.password)
	}

	if err := db.executor.ExecuteCommandToWriter(ctx, w, mysqldumpCmd, env, args...); err != nil {
		return fmt.Errorf("error running dump command for %q: %w", name, err)
	}

	db.log.Debug("successfully took dump of mysql database", "database", name)

	return nil
}
