package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/angusf777/CrowdInsight/internal/db"
)

// Service runs the curation stages. The pool is optional: file-to-file runs
// pass nil, commands that record rows or run history pass a live pool.
type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

func (s *Service) hasStore() bool {
	return s != nil && s.pool != nil
}
