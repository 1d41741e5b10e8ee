package app

import (
	"context"
	"errors"

	"social-login-service/internal/audit"
	"social-login-service/internal/config"
	"social-login-service/internal/db"
	"social-login-service/internal/logger"
	"social-login-service/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
	Audit *audit.KafkaSink
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	if err := db.Migrate(cfg.DatabaseDSN); err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	logger.Info("database ready", nil)

	redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", map[string]any{
		"addr": cfg.RedisAddr,
	})

	sink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
	if sink != nil {
		logger.Info("audit sink ready", map[string]any{
			"topic": cfg.KafkaAuditTopic,
		})
	}

	return &Infra{
		DB:    database,
		Redis: redisClient,
		Audit: sink,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(
		i.Audit.Close(),
		i.Redis.Close(),
		i.DB.Close(),
	)
}
