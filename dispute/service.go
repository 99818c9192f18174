package dispute

import "context"

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListOpen(ctx context.Context) ([]Record, error) {
	return s.repo.ListOpen(ctx)
}

func (s *Service) Get(ctx context.Context, jobID string) (Record, error) {
	return s.repo.ListForJob(ctx, jobID)
}

func (s *Service) ListResolved(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.ListResolved(ctx, limit)
}
