package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/cache"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/smallbiznis/invoicedesk/pkg/db"
	"github.com/smallbiznis/invoicedesk/pkg/db/option"
	"github.com/smallbiznis/invoicedesk/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cache cache.SenderCache `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cache cache.SenderCache
	repo  repository.Repository[domain.EmailSender]
}

func New(p Params) domain.Service {
	senderCache := p.Cache
	if senderCache == nil {
		senderCache = cache.NewSenderCache()
	}
	return &Service{
		log:   p.Log.Named("emailsender.service"),
		genID: p.GenID,
		clock: p.Clock,
		cache: senderCache,
		repo:  repository.ProvideStore[domain.EmailSender](p.DB),
	}
}

func (s *Service) List(ctx context.Context) ([]domain.EmailSender, error) {
	items, err := s.repo.Find(ctx, &domain.EmailSender{},
		option.WithSortBy(option.QuerySortBy{Default: "created_at"}),
	)
	if err != nil {
		return nil, err
	}

	senders := make([]domain.EmailSender, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		senders = append(senders, *item)
	}
	return senders, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.EmailSender, error) {
	senderID, err := parseID(id)
	if err != nil {
		return domain.EmailSender{}, err
	}
	return s.findByID(ctx, senderID)
}

func (s *Service) Create(ctx context.Context, email string) (domain.EmailSender, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return domain.EmailSender{}, err
	}

	existing, err := s.repo.FindOne(ctx, &domain.EmailSender{Email: normalized})
	if err != nil {
		return domain.EmailSender{}, err
	}
	if existing != nil {
		return domain.EmailSender{}, domain.ErrAlreadyExists
	}

	now := s.clock.Now()
	sender := domain.EmailSender{
		ID:        s.genID.Generate(),
		Email:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, &sender); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.EmailSender{}, domain.ErrAlreadyExists
		}
		return domain.EmailSender{}, err
	}

	s.cache.Forget(normalized)
	s.log.Info("emailsender.created", zap.String("sender_id", sender.ID.String()))
	return sender, nil
}

func (s *Service) Update(ctx context.Context, id string, email string) (domain.EmailSender, error) {
	senderID, err := parseID(id)
	if err != nil {
		return domain.EmailSender{}, err
	}
	if strings.TrimSpace(email) == "" {
		return domain.EmailSender{}, domain.ErrEmailRequired
	}

	current, err := s.findByID(ctx, senderID)
	if err != nil {
		return domain.EmailSender{}, err
	}

	normalized, err := normalizeEmail(email)
	if err != nil {
		return domain.EmailSender{}, err
	}

	existing, err := s.repo.FindOne(ctx, &domain.EmailSender{Email: normalized})
	if err != nil {
		return domain.EmailSender{}, err
	}
	if existing != nil && existing.ID != senderID {
		return domain.EmailSender{}, domain.ErrAlreadyExists
	}

	now := s.clock.Now()
	if err := s.repo.Update(ctx, senderID, map[string]any{
		"email":      normalized,
		"updated_at": now,
	}); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.EmailSender{}, domain.ErrAlreadyExists
		}
		return domain.EmailSender{}, err
	}

	s.cache.Forget(current.Email)
	s.cache.Forget(normalized)

	current.Email = normalized
	current.UpdatedAt = now
	return current, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	senderID, err := parseID(id)
	if err != nil {
		return err
	}

	current, err := s.findByID(ctx, senderID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, senderID); err != nil {
		return err
	}
	s.cache.Forget(current.Email)
	s.log.Info("emailsender.deleted", zap.String("sender_id", senderID.String()))
	return nil
}

// IsRegistered is consulted before every dispatch and is served from cache when possible.
// With the in-process cache, a sender deleted by another process stays accepted
// here until its entry expires; the redis cache closes that window.
func (s *Service) IsRegistered(ctx context.Context, email string) (bool, error) {
	normalized := mailer.NormalizeAddress(email)
	if normalized == "" {
		return false, nil
	}
	if registered, ok := s.cache.Lookup(normalized); ok {
		return registered, nil
	}

	count, err := s.repo.Count(ctx, &domain.EmailSender{Email: normalized})
	if err != nil {
		return false, err
	}
	registered := count > 0
	s.cache.Remember(normalized, registered)
	return registered, nil
}

func (s *Service) findByID(ctx context.Context, id snowflake.ID) (domain.EmailSender, error) {
	item, err := s.repo.FindOne(ctx, &domain.EmailSender{ID: id})
	if err != nil {
		return domain.EmailSender{}, err
	}
	if item == nil {
		return domain.EmailSender{}, domain.ErrNotFound
	}
	return *item, nil
}

func normalizeEmail(email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", domain.ErrEmailRequired
	}
	if !mailer.IsValidAddress(email) {
		return "", domain.ErrInvalidEmail
	}
	return mailer.NormalizeAddress(email), nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
