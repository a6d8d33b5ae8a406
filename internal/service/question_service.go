package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// OpsPublisher рассылает применённые операции другим экземплярам (cluster.Replicator)
type OpsPublisher interface {
	Publish(ops []aggregate.Op) error
}

// RepairScheduler принимает пространства, которым нужен ремонт
type RepairScheduler interface {
	Enqueue(ns namespace.Namespace) bool
}

// QuestionService изменяет источник истины и поддерживает агрегаты в актуальном состоянии.
// Запись в источник идёт в одной транзакции; операции над агрегатами применяются
// только после фиксации, так что откат транзакции не оставляет следов в агрегатах.
type QuestionService struct {
	uow       repository.UnitOfWork
	taxonomy  repository.TaxonomyRepository
	store     *aggregate.Store
	health    *aggregate.Health
	scheduler RepairScheduler
	publisher OpsPublisher
	log       *logger.Logger
}

// NewQuestionService создает новый сервис вопросов. scheduler и publisher могут быть nil.
func NewQuestionService(
	uow repository.UnitOfWork,
	taxonomy repository.TaxonomyRepository,
	store *aggregate.Store,
	health *aggregate.Health,
	scheduler RepairScheduler,
	publisher OpsPublisher,
	log *logger.Logger,
) *QuestionService {
	return &QuestionService{
		uow:       uow,
		taxonomy:  taxonomy,
		store:     store,
		health:    health,
		scheduler: scheduler,
		publisher: publisher,
		log:       logger.OrNop(log),
	}
}

// CreateQuestionInput - данные нового вопроса
type CreateQuestionInput struct {
	ThemeID       uint
	SubthemeID    uint
	GroupID       uint
	Text          string
	Options       []string
	CorrectOption int
}

// ==========================================
// Таксономия
// ==========================================

// CreateTheme создает тему тенанта
func (s *QuestionService) CreateTheme(ctx context.Context, tenantID uint, name string) (*entity.Theme, error) {
	name = strings.TrimSpace(name)
	if tenantID == 0 || name == "" {
		return nil, fmt.Errorf("%w: tenant and name are required", apperrors.ErrValidation)
	}
	theme := &entity.Theme{TenantID: tenantID, Name: name}
	if err := s.taxonomy.CreateTheme(ctx, theme); err != nil {
		return nil, fmt.Errorf("failed to create theme: %w", err)
	}
	return theme, nil
}

// CreateSubtheme создает подтему в теме того же тенанта
func (s *QuestionService) CreateSubtheme(ctx context.Context, tenantID, themeID uint, name string) (*entity.Subtheme, error) {
	name = strings.TrimSpace(name)
	if tenantID == 0 || themeID == 0 || name == "" {
		return nil, fmt.Errorf("%w: tenant, theme and name are required", apperrors.ErrValidation)
	}
	if _, err := s.taxonomy.GetTheme(ctx, tenantID, themeID); err != nil {
		return nil, fmt.Errorf("theme %d: %w", themeID, err)
	}
	subtheme := &entity.Subtheme{TenantID: tenantID, ThemeID: themeID, Name: name}
	if err := s.taxonomy.CreateSubtheme(ctx, subtheme); err != nil {
		return nil, fmt.Errorf("failed to create subtheme: %w", err)
	}
	return subtheme, nil
}

// CreateGroup создает группу в подтеме того же тенанта
func (s *QuestionService) CreateGroup(ctx context.Context, tenantID, subthemeID uint, name string) (*entity.Group, error) {
	name = strings.TrimSpace(name)
	if tenantID == 0 || subthemeID == 0 || name == "" {
		return nil, fmt.Errorf("%w: tenant, subtheme and name are required", apperrors.ErrValidation)
	}
	subtheme, err := s.taxonomy.GetSubtheme(ctx, tenantID, subthemeID)
	if err != nil {
		return nil, fmt.Errorf("subtheme %d: %w", subthemeID, err)
	}
	group := &entity.Group{TenantID: tenantID, ThemeID: subtheme.ThemeID, SubthemeID: subthemeID, Name: name}
	if err := s.taxonomy.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, nil
}

// checkPlacement проверяет, что узлы положения существуют в тенанте и вложены друг в друга
func checkPlacement(ctx context.Context, taxonomy repository.TaxonomyRepository, p entity.Placement) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	if _, err := taxonomy.GetTheme(ctx, p.TenantID, p.ThemeID); err != nil {
		return placementError("theme", p.ThemeID, err)
	}
	if p.SubthemeID != 0 {
		subtheme, err := taxonomy.GetSubtheme(ctx, p.TenantID, p.SubthemeID)
		if err != nil {
			return placementError("subtheme", p.SubthemeID, err)
		}
		if subtheme.ThemeID != p.ThemeID {
			return fmt.Errorf("%w: subtheme %d does not belong to theme %d", apperrors.ErrValidation, p.SubthemeID, p.ThemeID)
		}
	}
	if p.GroupID != 0 {
		group, err := taxonomy.GetGroup(ctx, p.TenantID, p.GroupID)
		if err != nil {
			return placementError("group", p.GroupID, err)
		}
		if group.SubthemeID != p.SubthemeID {
			return fmt.Errorf("%w: group %d does not belong to subtheme %d", apperrors.ErrValidation, p.GroupID, p.SubthemeID)
		}
	}
	return nil
}

func placementError(level string, id uint, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("%w: %s %d not found", apperrors.ErrValidation, level, id)
	}
	return fmt.Errorf("load %s %d: %w", level, id, err)
}

// ==========================================
// Вопросы
// ==========================================

// CreateQuestion создает вопрос и добавляет его в пространства таксономии
func (s *QuestionService) CreateQuestion(ctx context.Context, tenantID uint, in CreateQuestionInput) (*entity.Question, error) {
	q := &entity.Question{
		TenantID:      tenantID,
		Text:          strings.TrimSpace(in.Text),
		Options:       entity.StringArray(in.Options),
		CorrectOption: in.CorrectOption,
	}
	q.SetPlacement(entity.Placement{ThemeID: in.ThemeID, SubthemeID: in.SubthemeID, GroupID: in.GroupID})
	if q.Text == "" {
		return nil, fmt.Errorf("%w: text is required", apperrors.ErrValidation)
	}
	if q.OptionsCount() < 2 || !q.IsValidOption(q.CorrectOption) {
		return nil, fmt.Errorf("%w: at least two options and a valid correct_option are required", apperrors.ErrValidation)
	}

	err := s.uow.Do(ctx, func(repos repository.TxRepositories) error {
		if err := checkPlacement(ctx, repos.Taxonomy, q.Placement()); err != nil {
			return err
		}
		return repos.Questions.Create(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	s.apply(aggregate.InsertOps(uint64(q.ID), namespace.ForPlacement(q.Placement())))
	return q, nil
}

// loadQuestion читает вопрос и проверяет принадлежность тенанту
func loadQuestion(ctx context.Context, repos repository.TxRepositories, tenantID, id uint) (*entity.Question, error) {
	q, err := repos.Questions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.TenantID != tenantID {
		return nil, fmt.Errorf("question %d: %w", id, apperrors.ErrNotFound)
	}
	return q, nil
}

// userNamespaces - все пространства статусов пользователя, в которых состоит вопрос
func userNamespaces(p entity.Placement, state entity.UserQuestionState) []namespace.Namespace {
	var out []namespace.Namespace
	flags := state.Flags()
	for _, status := range entity.UserStatuses() {
		if flags.Has(status) {
			out = append(out, namespace.ForUserPlacement(p, state.UserID, status)...)
		}
	}
	return out
}

// DeleteQuestion удаляет вопрос вместе с состояниями пользователей
func (s *QuestionService) DeleteQuestion(ctx context.Context, tenantID, id uint) error {
	var ops []aggregate.Op
	err := s.uow.Do(ctx, func(repos repository.TxRepositories) error {
		q, err := loadQuestion(ctx, repos, tenantID, id)
		if err != nil {
			return err
		}
		states, err := repos.UserStates.ListByQuestion(ctx, id)
		if err != nil {
			return err
		}
		if err := repos.UserStates.DeleteByQuestion(ctx, id); err != nil {
			return err
		}
		if err := repos.Questions.Delete(ctx, id); err != nil {
			return err
		}

		p := q.Placement()
		ops = aggregate.RemoveOps(uint64(id), namespace.ForPlacement(p))
		for _, st := range states {
			ops = append(ops, aggregate.RemoveOps(uint64(id), userNamespaces(p, st))...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.apply(ops)
	return nil
}

// MoveQuestion переносит вопрос в другой узел таксономии.
// Удаление из старых пространств и вставка в новые - две отдельные операции:
// кратковременное окно между ними закрывается ремонтом.
func (s *QuestionService) MoveQuestion(ctx context.Context, tenantID, id uint, to entity.Placement) (*entity.Question, error) {
	to.TenantID = tenantID
	var (
		moved  *entity.Question
		from   entity.Placement
		states []entity.UserQuestionState
	)
	err := s.uow.Do(ctx, func(repos repository.TxRepositories) error {
		q, err := loadQuestion(ctx, repos, tenantID, id)
		if err != nil {
			return err
		}
		if err := checkPlacement(ctx, repos.Taxonomy, to); err != nil {
			return err
		}
		if err := repos.Questions.UpdatePlacement(ctx, id, to); err != nil {
			return err
		}
		if states, err = repos.UserStates.ListByQuestion(ctx, id); err != nil {
			return err
		}
		from = q.Placement()
		q.SetPlacement(to)
		moved = q
		return nil
	})
	if err != nil {
		return nil, err
	}

	oldNS := namespace.ForPlacement(from)
	newNS := namespace.ForPlacement(to)
	for _, st := range states {
		oldNS = append(oldNS, userNamespaces(from, st)...)
		newNS = append(newNS, userNamespaces(to, st)...)
	}
	removed, added := diff(oldNS, newNS)

	s.apply(aggregate.RemoveOps(uint64(id), removed))
	s.apply(aggregate.InsertOps(uint64(id), added))
	return moved, nil
}

// diff возвращает пространства, которые есть только в old, и только в new
func diff(old, new []namespace.Namespace) (removed, added []namespace.Namespace) {
	inOld := make(map[namespace.Namespace]bool, len(old))
	for _, ns := range old {
		inOld[ns] = true
	}
	inNew := make(map[namespace.Namespace]bool, len(new))
	for _, ns := range new {
		inNew[ns] = true
		if !inOld[ns] {
			added = append(added, ns)
		}
	}
	for _, ns := range old {
		if !inNew[ns] {
			removed = append(removed, ns)
		}
	}
	return removed, added
}

// SetUserState задаёт флаги пользователя по вопросу и обновляет пространства статусов
func (s *QuestionService) SetUserState(ctx context.Context, tenantID, userID, questionID uint, flags entity.UserFlags) (*entity.UserQuestionState, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user_id is required", apperrors.ErrValidation)
	}

	var (
		state *entity.UserQuestionState
		ops   []aggregate.Op
	)
	err := s.uow.Do(ctx, func(repos repository.TxRepositories) error {
		q, err := loadQuestion(ctx, repos, tenantID, questionID)
		if err != nil {
			return err
		}
		var before entity.UserFlags
		existing, err := repos.UserStates.Get(ctx, userID, questionID)
		switch {
		case err == nil:
			before = existing.Flags()
			state = existing
		case errors.Is(err, apperrors.ErrNotFound):
			state = &entity.UserQuestionState{UserID: userID, QuestionID: questionID, TenantID: tenantID}
		default:
			return err
		}

		state.SetFlags(flags)
		if err := repos.UserStates.Upsert(ctx, state); err != nil {
			return err
		}

		p := q.Placement()
		for _, status := range entity.UserStatuses() {
			was, now := before.Has(status), flags.Has(status)
			switch {
			case !was && now:
				ops = append(ops, aggregate.InsertOps(uint64(questionID), namespace.ForUserPlacement(p, userID, status))...)
			case was && !now:
				ops = append(ops, aggregate.RemoveOps(uint64(questionID), namespace.ForUserPlacement(p, userID, status))...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ops)
	return state, nil
}

// apply применяет зафиксированные операции к агрегатам и рассылает их.
// Источник уже изменён, поэтому ошибки агрегатов не возвращаются вызывающему:
// повреждённые пространства помечаются и ставятся в очередь ремонта.
func (s *QuestionService) apply(ops []aggregate.Op) {
	if len(ops) == 0 {
		return
	}
	res, err := s.store.Apply(ops)
	if err != nil {
		s.log.Warnf("[QuestionService] Ошибка применения %d операций: %v", len(ops), err)
		for _, ns := range res.Corrupted {
			s.health.MarkCorrupted(ns)
			if s.scheduler != nil {
				s.scheduler.Enqueue(ns)
			}
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ops); err != nil {
			s.log.Warnf("[QuestionService] Не удалось разослать операции: %v", err)
		}
	}
}
