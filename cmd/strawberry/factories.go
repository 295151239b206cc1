package main

import (
	"context"
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/torosent/strawberry/internal/config"
	"github.com/torosent/strawberry/internal/dataset"
	"github.com/torosent/strawberry/internal/httpclient"
	"github.com/torosent/strawberry/internal/metrics"
	"github.com/torosent/strawberry/internal/requester"
	"github.com/torosent/strawberry/internal/sampler"
	"github.com/torosent/strawberry/internal/tracing"
)

func newStore(ctx context.Context, cfg *config.Config) (dataset.Store, error) {
	var (
		store dataset.Store
		err   error
	)
	switch cfg.Output.Type {
	case config.OutputLocal:
		store, err = dataset.NewLocalStore(cfg.Output.Path)
	case config.OutputS3:
		s3 := cfg.Output.S3
		store, err = dataset.NewS3Store(dataset.S3Config{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Region:    s3.Region,
			Secure:    s3.Secure,
		})
	case config.OutputRedis:
		r := cfg.Output.Redis
		store, err = dataset.NewRedisStore(ctx, dataset.RedisConfig{
			Addr:     r.Addr,
			Username: r.Username,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
		})
	case config.OutputDiscard:
		store = dataset.DiscardStore{}
	default:
		return nil, fmt.Errorf("unsupported output type %q", cfg.Output.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", cfg.Output.Type, err)
	}
	log.WithField("output", storeDescription(store)).Info("Writing responses")
	return store, nil
}

func newRequester(cfg *config.Config, sink metrics.Sink, provider *tracing.Provider) (requester.Requester, error) {
	headers, err := httpclient.Headers(cfg.Target.APIKey, cfg.Target.Headers)
	if err != nil {
		return nil, err
	}
	return requester.New(string(cfg.Target.Protocol), requester.Options{
		BaseURL:   cfg.Target.URL,
		Model:     cfg.Target.Model,
		Headers:   headers,
		Client:    httpclient.NewClient(cfg.Target.Timeout, cfg.MaxUsers),
		Sink:      sink,
		Tracer:    provider.Tracer(),
		Propagate: provider.ShouldPropagate(),
	})
}

func newSampler(ctx context.Context, cfg *config.Config, store dataset.Store, rnd *rand.Rand) (sampler.Sampler, error) {
	mode, err := sampler.ParseMode(string(cfg.Sampler))
	if err != nil {
		return nil, err
	}
	return sampler.New(ctx, mode, sampler.Options{
		Source:    dataset.NewFileSource(cfg.Input),
		Store:     store,
		Overwrite: cfg.Overwrite,
		Rand:      rnd,
	})
}

// storeDescription names where records go, for the startup log.
func storeDescription(store dataset.Store) string {
	switch s := store.(type) {
	case *dataset.LocalStore:
		return "local:" + s.Dir()
	case *dataset.S3Store:
		return "s3"
	case *dataset.RedisStore:
		return "redis"
	default:
		return "discard"
	}
}
