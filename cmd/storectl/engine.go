package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/storekit/driver/aws/dynamoengine"
	"github.com/dogmatiq/storekit/driver/aws/s3engine"
	"github.com/dogmatiq/storekit/driver/bolt/boltengine"
	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	"github.com/dogmatiq/storekit/driver/sql/postgres/pgengine"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/config"
	"github.com/dogmatiq/storekit/store"
	_ "github.com/jackc/pgx/v4/stdlib" // register "pgx" driver
)

// setup loads the configuration and builds the tracker used by the commands.
func (a *app) setup(ctx context.Context) error {
	cfg := a.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(a.ConfigFile)
		if err != nil {
			return err
		}
	}

	e, closer, err := newEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to initialize %s engine: %w", cfg.Engine, err)
	}

	a.tracker = store.NewTracker(
		engine.WithNamePrefix(e, cfg.NamePrefix),
	)
	a.close = closer

	return nil
}

func (a *app) teardown() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

func newEngine(ctx context.Context, cfg *config.Config) (engine.Engine, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Engine {
	case config.EngineMemory:
		return &memoryengine.Engine{}, nop, nil

	case config.EngineBolt:
		if err := os.MkdirAll(cfg.Bolt.Dir, 0o700); err != nil {
			return nil, nil, err
		}
		return &boltengine.Engine{Dir: cfg.Bolt.Dir}, nop, nil

	case config.EnginePostgres:
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}

		if err := pgengine.CreateSchema(ctx, db); err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}

		return &pgengine.Engine{DB: db}, db.Close, nil

	case config.EngineDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, nil, err
		}

		client := dynamodb.NewFromConfig(
			awsCfg,
			func(opts *dynamodb.Options) {
				if cfg.DynamoDB.Endpoint != "" {
					opts.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
				}
			},
		)

		return dynamoengine.New(client, cfg.DynamoDB.Table), nop, nil

	case config.EngineS3:
		awsCfg, err := loadAWSConfig(ctx, cfg.S3.Region)
		if err != nil {
			return nil, nil, err
		}

		client := s3.NewFromConfig(
			awsCfg,
			func(opts *s3.Options) {
				if cfg.S3.Endpoint != "" {
					opts.BaseEndpoint = aws.String(cfg.S3.Endpoint)
					opts.UsePathStyle = true
				}
			},
		)

		return s3engine.New(client, cfg.S3.Bucket), nop, nil
	}

	return nil, nil, fmt.Errorf("unsupported engine: %q", cfg.Engine)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var options []func(*awsconfig.LoadOptions) error

	if region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}

	return awsconfig.LoadDefaultConfig(ctx, options...)
}
