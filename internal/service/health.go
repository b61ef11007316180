package service

import (
	"context"

	myredis "chatty_session_server/internal/dao/redis"
	"chatty_session_server/internal/dao/repository"
)

type healthService struct {
	repos *repository.Repositories
	cache myredis.CacheService
}

func NewHealthService(repos *repository.Repositories, cache myredis.CacheService) HealthService {
	return &healthService{repos: repos, cache: cache}
}

func (s *healthService) Check(ctx context.Context) map[string]error {
	result := map[string]error{"store": s.repos.Ping()}
	if s.cache != nil {
		result["redis"] = s.cache.Ping(ctx)
	}
	return result
}
