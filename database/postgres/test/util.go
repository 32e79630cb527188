package test

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	containerName     = "postgres"
	containerVersion  = "14-alpine"
	containerAutoKill = 120 // seconds

	port     = 5432
	user     = "purchasing"
	password = "purchasing"
	dbName   = "purchasing"
)

// StartPostgresDB starts a disposable postgres container. It returns the
// database URL and a cleanup function purging the container.
func StartPostgresDB(pool *dockertest.Pool) (databaseUrl string, cleanup func(), err error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbName,
			"listen_addresses='*'",
		},
		ExposedPorts: []string{fmt.Sprintf("%d/tcp", port)},
	}, func(config *docker.HostConfig) {
		// Enable AutoRemove and disable Restart
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "could not start postgres container")
	}

	// Set a timeout to automatically kill the container
	if err := resource.Expire(containerAutoKill); err != nil {
		return "", nil, errors.Wrap(err, "could not set container expiry")
	}

	hostAndPort := resource.GetHostPort(fmt.Sprintf("%d/tcp", port))
	databaseUrl = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostAndPort, dbName)

	cleanup = func() {
		if err := pool.Purge(resource); err != nil {
			fmt.Printf("Could not purge resource: %s\n", err)
		}
	}

	pool.MaxWait = 60 * time.Second
	err = pool.Retry(func() error {
		db, err := sql.Open("pgx", databaseUrl)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	})
	if err != nil {
		cleanup()
		return "", nil, errors.Wrap(err, "postgres did not become ready")
	}

	return databaseUrl, cleanup, nil
}

// WaitForConnection opens a pgx backed *sql.DB and pings it until it
// answers. The returned function closes the connection.
func WaitForConnection(databaseUrl string) (*sql.DB, func(), error) {
	db, err := sql.Open("pgx", databaseUrl)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open database")
	}

	var pingErr error
	for i := 0; i < 50; i++ {
		if pingErr = db.Ping(); pingErr == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if pingErr != nil {
		db.Close()
		return nil, nil, errors.Wrap(pingErr, "database unreachable")
	}

	disconnect := func() {
		if err := db.Close(); err != nil {
			fmt.Printf("Could not close database: %s\n", err)
		}
	}
	return db, disconnect, nil
}
