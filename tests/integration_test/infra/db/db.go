package db

import (
	"context"
	"fmt"

	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/db"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func SetupContainer(ctx context.Context) (testcontainers.Container, *db.DB, string) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "trainpool",
			"POSTGRES_PASSWORD": "trainpool123",
			"POSTGRES_DB":       "trainpool",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		panic(err)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")

	url := fmt.Sprintf(
		"postgres://trainpool:trainpool123@%s:%s/trainpool?sslmode=disable",
		host,
		port.Port(),
	)

	d, err := db.New(ctx, &config.PostgresConfig{URL: url})
	if err != nil {
		panic(err)
	}
	if err := d.Migrate(ctx); err != nil {
		panic(err)
	}
	return container, d, url
}
