// Package memory - хранение источника истины в памяти процесса.
// Реализует те же интерфейсы, что и postgres; используется в тестах сервисов
// и в режиме локальной разработки без базы данных.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
)

// Source хранит вопросы, таксономию и состояния пользователей.
// Реализует QuestionRepository, UserStateRepository, TaxonomyRepository,
// AggregateSourceRepository и UnitOfWork.
type Source struct {
	mu        sync.RWMutex
	questions map[uint]entity.Question
	states    map[uint]entity.UserQuestionState
	themes    map[uint]entity.Theme
	subthemes map[uint]entity.Subtheme
	groups    map[uint]entity.Group
	nextID    uint
	readErr   error
}

// NewSource создает пустой источник
func NewSource() *Source {
	return &Source{
		questions: make(map[uint]entity.Question),
		states:    make(map[uint]entity.UserQuestionState),
		themes:    make(map[uint]entity.Theme),
		subthemes: make(map[uint]entity.Subtheme),
		groups:    make(map[uint]entity.Group),
	}
}

// FailReads заставляет чтения источника для агрегатов возвращать err (nil снимает отказ)
func (s *Source) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *Source) newID() uint {
	s.nextID++
	return s.nextID
}

// ==========================================
// UnitOfWork
// ==========================================

// Do выполняет fn; при ошибке состояние источника откатывается к моменту вызова
func (s *Source) Do(ctx context.Context, fn func(repos repository.TxRepositories) error) error {
	backup := s.clone()
	if err := fn(repository.TxRepositories{Questions: s, UserStates: s, Taxonomy: s}); err != nil {
		s.restore(backup)
		return err
	}
	return nil
}

type snapshot struct {
	questions map[uint]entity.Question
	states    map[uint]entity.UserQuestionState
	themes    map[uint]entity.Theme
	subthemes map[uint]entity.Subtheme
	groups    map[uint]entity.Group
}

func (s *Source) clone() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		questions: copyMap(s.questions),
		states:    copyMap(s.states),
		themes:    copyMap(s.themes),
		subthemes: copyMap(s.subthemes),
		groups:    copyMap(s.groups),
	}
}

func (s *Source) restore(b snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions, s.states = b.questions, b.states
	s.themes, s.subthemes, s.groups = b.themes, b.subthemes, b.groups
}

func copyMap[V any](in map[uint]V) map[uint]V {
	out := make(map[uint]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ==========================================
// QuestionRepository
// ==========================================

func (s *Source) Create(ctx context.Context, q *entity.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = s.newID()
	} else if q.ID > s.nextID {
		s.nextID = q.ID
	}
	now := time.Now()
	q.CreatedAt, q.UpdatedAt = now, now
	s.questions[q.ID] = *q
	return nil
}

func (s *Source) GetByID(ctx context.Context, id uint) (*entity.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &q, nil
}

func (s *Source) UpdatePlacement(ctx context.Context, id uint, p entity.Placement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	q.SetPlacement(p)
	q.UpdatedAt = time.Now()
	s.questions[id] = q
	return nil
}

func (s *Source) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.questions, id)
	return nil
}

// ==========================================
// UserStateRepository
// ==========================================

func (s *Source) Get(ctx context.Context, userID, questionID uint) (*entity.UserQuestionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.states {
		if st.UserID == userID && st.QuestionID == questionID {
			return &st, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *Source) Upsert(ctx context.Context, state *entity.UserQuestionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, st := range s.states {
		if st.UserID == state.UserID && st.QuestionID == state.QuestionID {
			st.SetFlags(state.Flags())
			st.UpdatedAt = now
			s.states[id] = st
			state.ID = id
			return nil
		}
	}
	state.ID = s.newID()
	state.CreatedAt, state.UpdatedAt = now, now
	s.states[state.ID] = *state
	return nil
}

func (s *Source) ListByQuestion(ctx context.Context, questionID uint) ([]entity.UserQuestionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.UserQuestionState
	for _, st := range s.states {
		if st.QuestionID == questionID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Source) DeleteByQuestion(ctx context.Context, questionID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.states {
		if st.QuestionID == questionID {
			delete(s.states, id)
		}
	}
	return nil
}

// ==========================================
// TaxonomyRepository
// ==========================================

func (s *Source) CreateTheme(ctx context.Context, t *entity.Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.newID()
	} else if t.ID > s.nextID {
		s.nextID = t.ID
	}
	s.themes[t.ID] = *t
	return nil
}

func (s *Source) CreateSubtheme(ctx context.Context, st *entity.Subtheme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.newID()
	} else if st.ID > s.nextID {
		s.nextID = st.ID
	}
	s.subthemes[st.ID] = *st
	return nil
}

func (s *Source) CreateGroup(ctx context.Context, g *entity.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.newID()
	} else if g.ID > s.nextID {
		s.nextID = g.ID
	}
	s.groups[g.ID] = *g
	return nil
}

func (s *Source) GetTheme(ctx context.Context, tenantID, id uint) (*entity.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.themes[id]
	if !ok || t.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	return &t, nil
}

func (s *Source) GetSubtheme(ctx context.Context, tenantID, id uint) (*entity.Subtheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.subthemes[id]
	if !ok || st.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	return &st, nil
}

func (s *Source) GetGroup(ctx context.Context, tenantID, id uint) (*entity.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok || g.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	return &g, nil
}

func (s *Source) Lineage(ctx context.Context, tenantID uint, subthemeIDs, groupIDs []uint) (*entity.Lineage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := entity.NewLineage()
	for _, id := range subthemeIDs {
		if st, ok := s.subthemes[id]; ok && st.TenantID == tenantID {
			l.Subthemes[id] = st.ThemeID
		}
	}
	for _, id := range groupIDs {
		if g, ok := s.groups[id]; ok && g.TenantID == tenantID {
			l.Groups[id] = entity.GroupParent{SubthemeID: g.SubthemeID, ThemeID: g.ThemeID}
		}
	}
	return l, nil
}

// ==========================================
// AggregateSourceRepository
// ==========================================

func (s *Source) ScanPage(ctx context.Context, q repository.PageQuery) ([]repository.SourceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return nil, s.readErr
	}

	var rows []repository.SourceRow
	if q.Status == "" {
		for _, question := range s.questions {
			if question.ID <= q.AfterID || (q.TenantID != 0 && question.TenantID != q.TenantID) {
				continue
			}
			rows = append(rows, questionRow(question.ID, question, 0))
		}
	} else {
		for id, st := range s.states {
			question, ok := s.questions[st.QuestionID]
			if id <= q.AfterID || !ok || !st.Flags().Has(q.Status) {
				continue
			}
			if q.TenantID != 0 && question.TenantID != q.TenantID {
				continue
			}
			rows = append(rows, questionRow(id, question, st.UserID))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func questionRow(rowID uint, q entity.Question, userID uint) repository.SourceRow {
	return repository.SourceRow{
		RowID:      rowID,
		QuestionID: q.ID,
		TenantID:   q.TenantID,
		ThemeID:    q.ThemeID,
		SubthemeID: q.SubthemeID,
		GroupID:    q.GroupID,
		UserID:     userID,
	}
}

func (s *Source) CountGrouped(ctx context.Context, q repository.GroupQuery) ([]repository.GroupCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return nil, s.readErr
	}

	type key struct{ tenant, user, node uint }
	counts := make(map[key]int64)
	add := func(question entity.Question, userID uint) {
		if q.TenantID != 0 && question.TenantID != q.TenantID {
			return
		}
		node := uint(0)
		if q.Level != entity.LevelGlobal {
			node = question.Placement().NodeID(q.Level)
			if node == 0 {
				return
			}
		}
		counts[key{question.TenantID, userID, node}]++
	}

	if q.Status == "" {
		for _, question := range s.questions {
			add(question, 0)
		}
	} else {
		for _, st := range s.states {
			if question, ok := s.questions[st.QuestionID]; ok && st.Flags().Has(q.Status) {
				add(question, st.UserID)
			}
		}
	}

	out := make([]repository.GroupCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, repository.GroupCount{TenantID: k.tenant, UserID: k.user, NodeID: k.node, Count: c})
	}
	return out, nil
}

// matching возвращает отсортированные id вопросов фильтра
func (s *Source) matching(f repository.SourceFilter) []uint64 {
	nodes := make(map[uint]bool, len(f.NodeIDs))
	for _, id := range f.NodeIDs {
		nodes[id] = true
	}
	flagged := map[uint]bool(nil)
	if f.Status != "" {
		flagged = make(map[uint]bool)
		for _, st := range s.states {
			if st.UserID == f.UserID && st.Flags().Has(f.Status) {
				flagged[st.QuestionID] = true
			}
		}
	}

	var ids []uint64
	for _, question := range s.questions {
		if question.TenantID != f.TenantID {
			continue
		}
		if f.Level != entity.LevelGlobal && f.Level != "" && len(nodes) > 0 && !nodes[question.Placement().NodeID(f.Level)] {
			continue
		}
		if flagged != nil && !flagged[question.ID] {
			continue
		}
		ids = append(ids, uint64(question.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Source) Count(ctx context.Context, f repository.SourceFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	return int64(len(s.matching(f))), nil
}

func (s *Source) ListIDs(ctx context.Context, f repository.SourceFilter) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.matching(f), nil
}

func (s *Source) Tenants(ctx context.Context) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	seen := make(map[uint]bool)
	var out []uint
	for _, q := range s.questions {
		if !seen[q.TenantID] {
			seen[q.TenantID] = true
			out = append(out, q.TenantID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
