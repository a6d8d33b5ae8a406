package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/internal/repository/memory"
)

// Таксономия тенанта 1:
//
//	T1(1) ── S1(11) ── G1(111)
//	      └─ S2(12) ── G2(121)
//	T2(2) ── S3(21)
const (
	tenant = uint(1)
	t1     = uint(1)
	t2     = uint(2)
	s1     = uint(11)
	s2     = uint(12)
	s3     = uint(21)
	g1     = uint(111)
	g2     = uint(121)
)

type fixture struct {
	src    *memory.Source
	store  *aggregate.Store
	health *aggregate.Health
	r      *Resolver
	nextID uint
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	ctx := context.Background()
	src := memory.NewSource()
	require.NoError(t, src.CreateTheme(ctx, &entity.Theme{ID: t1, TenantID: tenant, Name: "T1"}))
	require.NoError(t, src.CreateTheme(ctx, &entity.Theme{ID: t2, TenantID: tenant, Name: "T2"}))
	require.NoError(t, src.CreateSubtheme(ctx, &entity.Subtheme{ID: s1, TenantID: tenant, ThemeID: t1, Name: "S1"}))
	require.NoError(t, src.CreateSubtheme(ctx, &entity.Subtheme{ID: s2, TenantID: tenant, ThemeID: t1, Name: "S2"}))
	require.NoError(t, src.CreateSubtheme(ctx, &entity.Subtheme{ID: s3, TenantID: tenant, ThemeID: t2, Name: "S3"}))
	require.NoError(t, src.CreateGroup(ctx, &entity.Group{ID: g1, TenantID: tenant, ThemeID: t1, SubthemeID: s1, Name: "G1"}))
	require.NoError(t, src.CreateGroup(ctx, &entity.Group{ID: g2, TenantID: tenant, ThemeID: t1, SubthemeID: s2, Name: "G2"}))

	store := aggregate.NewStore(nil)
	health := aggregate.NewHealth()
	return &fixture{
		src:    src,
		store:  store,
		health: health,
		r:      NewResolver(store, health, src, src, nil, policy, nil),
		nextID: 1000,
	}
}

// add создает n вопросов в указанном положении и возвращает их id
func (f *fixture) add(t *testing.T, n int, p entity.Placement) []uint {
	t.Helper()
	p.TenantID = tenant
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		f.nextID++
		q := &entity.Question{ID: f.nextID, TenantID: tenant, Text: "q", Options: entity.StringArray{"a", "b"}}
		q.SetPlacement(p)
		require.NoError(t, f.src.Create(context.Background(), q))
		_, err := f.store.Apply(aggregate.InsertOps(uint64(q.ID), namespace.ForPlacement(p)))
		require.NoError(t, err)
		ids = append(ids, q.ID)
	}
	return ids
}

// flag выставляет статус пользователя для вопросов
func (f *fixture) flag(t *testing.T, userID uint, status entity.UserStatus, ids []uint) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		q, err := f.src.GetByID(ctx, id)
		require.NoError(t, err)
		state := &entity.UserQuestionState{UserID: userID, QuestionID: id, TenantID: tenant}
		if existing, err := f.src.Get(ctx, userID, id); err == nil {
			state.SetFlags(existing.Flags())
		}
		flags := state.Flags()
		switch status {
		case entity.StatusAnswered:
			flags.Answered = true
		case entity.StatusIncorrect:
			flags.Incorrect = true
		case entity.StatusBookmarked:
			flags.Bookmarked = true
		}
		state.SetFlags(flags)
		require.NoError(t, f.src.Upsert(ctx, state))
		_, err = f.store.Apply(aggregate.InsertOps(uint64(id), namespace.ForUserPlacement(q.Placement(), userID, status)))
		require.NoError(t, err)
	}
}

func selection(filter entity.SelectionFilter, themes, subthemes, groups []uint) entity.SelectionSpec {
	return entity.SelectionSpec{TenantID: tenant, Filter: filter, ThemeIDs: themes, SubthemeIDs: subthemes, GroupIDs: groups}
}

func breakdownOf(res *CountResult, level entity.Level, id uint) NodeCount {
	for _, nc := range res.Breakdown {
		if nc.Level == level && nc.ID == id {
			return nc
		}
	}
	return NodeCount{}
}

// ==========================================
// Подсчёт: правило самого специфичного узла
// ==========================================

func TestResolver_ParentAbsorbsChildSubtheme(t *testing.T) {
	// Arrange: T1 = 120 вопросов, из них 40 в S1
	f := newFixture(t, PolicyAuto)
	f.add(t, 40, entity.Placement{ThemeID: t1, SubthemeID: s1})
	f.add(t, 80, entity.Placement{ThemeID: t1, SubthemeID: s2})

	// Act
	res, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, []uint{s1}, nil))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 120, res.Total, "Вопросы S1 не должны считаться дважды")
	assert.False(t, res.Degraded)
	assert.Equal(t, NodeCount{Level: entity.LevelTheme, ID: t1, Raw: 120, Attributed: 80, Strategy: AggregateBacked}, breakdownOf(res, entity.LevelTheme, t1))
	assert.Equal(t, NodeCount{Level: entity.LevelSubtheme, ID: s1, Raw: 40, Attributed: 40, Strategy: AggregateBacked}, breakdownOf(res, entity.LevelSubtheme, s1))
}

func TestResolver_ThemeEqualsAllSubthemes(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	f.add(t, 7, entity.Placement{ThemeID: t1, SubthemeID: s1})
	f.add(t, 5, entity.Placement{ThemeID: t1, SubthemeID: s1, GroupID: g1})
	f.add(t, 9, entity.Placement{ThemeID: t1, SubthemeID: s2})
	f.add(t, 4, entity.Placement{ThemeID: t2, SubthemeID: s3})

	theme, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, nil, nil))
	require.NoError(t, err)
	subs, err := f.r.Count(context.Background(), selection(entity.FilterAll, nil, []uint{s1, s2}, nil))
	require.NoError(t, err)

	assert.Equal(t, 21, theme.Total)
	assert.Equal(t, theme.Total, subs.Total)
}

func TestResolver_ThemeWithDescendantGroup(t *testing.T) {
	tests := []struct {
		name      string
		subthemes []uint
	}{
		{"тема и группа без промежуточной подтемы", nil},
		{"тема, подтема и группа", []uint{s1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, PolicyAuto)
			f.add(t, 10, entity.Placement{ThemeID: t1})
			f.add(t, 6, entity.Placement{ThemeID: t1, SubthemeID: s1, GroupID: g1})
			f.add(t, 3, entity.Placement{ThemeID: t1, SubthemeID: s2, GroupID: g2})

			alone, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, nil, nil))
			require.NoError(t, err)
			res, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, tt.subthemes, []uint{g1}))
			require.NoError(t, err)

			assert.Equal(t, alone.Total, res.Total)
			assert.Equal(t, 19, res.Total)
			assert.Equal(t, 6, breakdownOf(res, entity.LevelGroup, g1).Attributed, "Группа забирает свои вопросы себе")
		})
	}
}

func TestResolver_PlanNearestAncestor(t *testing.T) {
	f := newFixture(t, PolicyAuto)

	plan, err := f.r.Plan(context.Background(), selection(entity.FilterAll, []uint{t1, t2}, []uint{s1, s3}, []uint{g1, g2}))

	require.NoError(t, err)
	assert.Equal(t, Node{entity.LevelSubtheme, s1}, plan.Ancestor[Node{entity.LevelGroup, g1}])
	assert.Equal(t, Node{entity.LevelTheme, t1}, plan.Ancestor[Node{entity.LevelGroup, g2}], "Дед без выбранного родителя")
	assert.Equal(t, Node{entity.LevelTheme, t2}, plan.Ancestor[Node{entity.LevelSubtheme, s3}])
	assert.Equal(t, []Node{{entity.LevelTheme, t1}, {entity.LevelTheme, t2}}, plan.Roots)
	assert.ElementsMatch(t, []Node{{entity.LevelSubtheme, s1}, {entity.LevelGroup, g2}}, plan.Children(Node{entity.LevelTheme, t1}))
}

func TestResolver_DisjointRootsAreSummed(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	f.add(t, 8, entity.Placement{ThemeID: t1, SubthemeID: s1})
	f.add(t, 2, entity.Placement{ThemeID: t2, SubthemeID: s3})

	res, err := f.r.Count(context.Background(), selection(entity.FilterAll, nil, []uint{s1, s3}, nil))

	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
}

func TestResolver_WholeTenant(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	f.add(t, 12, entity.Placement{ThemeID: t1})
	f.add(t, 3, entity.Placement{ThemeID: t2})

	res, err := f.r.Count(context.Background(), selection(entity.FilterAll, nil, nil, nil))

	require.NoError(t, err)
	assert.Equal(t, 15, res.Total)
	require.Len(t, res.Breakdown, 1)
	assert.Equal(t, entity.LevelGlobal, res.Breakdown[0].Level)
}

// ==========================================
// Подсчёт: фильтры пользователя
// ==========================================

func TestResolver_UnansweredWholeTenant(t *testing.T) {
	// Arrange: 150 вопросов, пользователь ответил на 50
	f := newFixture(t, PolicyAuto)
	ids := f.add(t, 100, entity.Placement{ThemeID: t1, SubthemeID: s1})
	ids = append(ids, f.add(t, 50, entity.Placement{ThemeID: t2})...)
	f.flag(t, 5, entity.StatusAnswered, ids[:50])

	spec := selection(entity.FilterUnanswered, nil, nil, nil)
	spec.UserID = 5

	// Act
	res, err := f.r.Count(context.Background(), spec)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 100, res.Total)
}

func TestResolver_UnansweredByNode(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	a := f.add(t, 30, entity.Placement{ThemeID: t1, SubthemeID: s1})
	b := f.add(t, 20, entity.Placement{ThemeID: t1, SubthemeID: s2})
	f.flag(t, 5, entity.StatusAnswered, a[:10])
	f.flag(t, 5, entity.StatusAnswered, b[:5])

	spec := selection(entity.FilterUnanswered, []uint{t1}, []uint{s1}, nil)
	spec.UserID = 5
	res, err := f.r.Count(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, 35, res.Total)
	assert.Equal(t, 20, breakdownOf(res, entity.LevelSubtheme, s1).Attributed)
	assert.Equal(t, 15, breakdownOf(res, entity.LevelTheme, t1).Attributed)
}

func TestResolver_UserFilterSingleAndMultipleRoots(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	a := f.add(t, 10, entity.Placement{ThemeID: t1, SubthemeID: s1, GroupID: g1})
	b := f.add(t, 10, entity.Placement{ThemeID: t2, SubthemeID: s3})
	f.flag(t, 7, entity.StatusBookmarked, a[:4])
	f.flag(t, 7, entity.StatusBookmarked, b[:3])
	f.flag(t, 8, entity.StatusBookmarked, b) // другой пользователь не влияет

	tests := []struct {
		name   string
		themes []uint
		groups []uint
		want   int
	}{
		{"весь тенант", nil, nil, 7},
		{"одна тема", []uint{t2}, nil, 3},
		{"тема и вложенная группа", []uint{t1}, []uint{g1}, 4},
		{"два корня", []uint{t2}, []uint{g1}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := selection(entity.FilterBookmarked, tt.themes, nil, tt.groups)
			spec.UserID = 7

			res, err := f.r.Count(context.Background(), spec)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Total)
			assert.False(t, res.Degraded)
		})
	}
}

// ==========================================
// Стратегии и откат на сканирование
// ==========================================

func TestResolver_ScanPolicyMatchesAggregate(t *testing.T) {
	f := newFixture(t, PolicyScan)
	a := f.add(t, 12, entity.Placement{ThemeID: t1, SubthemeID: s1})
	f.add(t, 6, entity.Placement{ThemeID: t1, SubthemeID: s2, GroupID: g2})
	f.flag(t, 3, entity.StatusIncorrect, a[:5])
	aggregated := NewResolver(f.store, f.health, f.src, f.src, nil, PolicyAggregate, nil)

	for _, spec := range []entity.SelectionSpec{
		selection(entity.FilterAll, []uint{t1}, []uint{s1}, []uint{g2}),
		{TenantID: tenant, UserID: 3, Filter: entity.FilterIncorrect, SubthemeIDs: []uint{s1, s2}},
		{TenantID: tenant, UserID: 3, Filter: entity.FilterUnanswered, ThemeIDs: []uint{t1}},
	} {
		scan, err := f.r.Count(context.Background(), spec)
		require.NoError(t, err)
		agg, err := aggregated.Count(context.Background(), spec)
		require.NoError(t, err)

		assert.Equal(t, agg.Total, scan.Total, spec.Filter)
		assert.False(t, scan.Degraded, "Принудительное сканирование не является деградацией")
		for _, nc := range scan.Breakdown {
			assert.Equal(t, ScanBacked, nc.Strategy)
		}
	}
}

func TestResolver_UnhealthyNamespaceFallsBackToScan(t *testing.T) {
	// Arrange: агрегат темы разошёлся с источником и помечен повреждённым
	f := newFixture(t, PolicyAuto)
	f.add(t, 10, entity.Placement{ThemeID: t1, SubthemeID: s1})
	_, _ = f.store.Insert(namespace.Node(tenant, entity.LevelTheme, t1), 999999)
	f.health.MarkCorrupted(namespace.Node(tenant, entity.LevelTheme, t1))

	// Act
	res, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, []uint{s1}, nil))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total, "Счётчик берётся из источника")
	assert.True(t, res.Degraded)
	assert.Equal(t, ScanBacked, breakdownOf(res, entity.LevelTheme, t1).Strategy)
	assert.Equal(t, AggregateBacked, breakdownOf(res, entity.LevelSubtheme, s1).Strategy)
}

func TestResolver_CountDuringUnfinishedRebuild(t *testing.T) {
	// Arrange: вопросы есть только в источнике, построение агрегатов ещё идёт
	f := newFixture(t, PolicyAuto)
	for i := 0; i < 5; i++ {
		f.nextID++
		q := &entity.Question{ID: f.nextID, TenantID: tenant, Text: "q", Options: entity.StringArray{"a", "b"}}
		q.SetPlacement(entity.Placement{TenantID: tenant, ThemeID: t1, SubthemeID: s1})
		require.NoError(t, f.src.Create(context.Background(), q))
	}
	for _, class := range []namespace.Class{namespace.ClassGlobal, namespace.ClassTheme, namespace.ClassSubtheme} {
		f.health.MarkRebuilding("class:"+string(class)+":all", namespace.Matcher(class, 0))
	}

	// Act
	whole, err := f.r.Count(context.Background(), selection(entity.FilterAll, nil, nil, nil))
	require.NoError(t, err)
	byTheme, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, nil, nil))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 5, whole.Total, "Пустой агрегат не читается")
	assert.True(t, whole.Degraded)
	assert.Equal(t, 5, byTheme.Total)
	assert.Equal(t, ScanBacked, breakdownOf(byTheme, entity.LevelTheme, t1).Strategy)

	// После проверки области счётчики снова берутся из агрегата
	f.health.ClearRebuilding("class:global:all")
	after, err := f.r.Count(context.Background(), selection(entity.FilterAll, nil, nil, nil))
	require.NoError(t, err)
	assert.Zero(t, after.Total, "Агрегат глобального пространства не построен в этом тесте")
	assert.False(t, after.Degraded)
}

func TestResolver_ScanErrorIsReturned(t *testing.T) {
	f := newFixture(t, PolicyScan)
	f.src.FailReads(errors.New("db down"))

	_, err := f.r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, nil, nil))

	assert.Error(t, err)
}

func TestResolver_ValidationError(t *testing.T) {
	f := newFixture(t, PolicyAuto)

	_, err := f.r.Count(context.Background(), selection(entity.FilterIncorrect, nil, nil, nil))

	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

// MockTaxonomy - мок для TaxonomyRepository (используется только Lineage)
type MockTaxonomy struct {
	memory.Source
	mock.Mock
}

func (m *MockTaxonomy) Lineage(ctx context.Context, tenantID uint, subthemeIDs, groupIDs []uint) (*entity.Lineage, error) {
	args := m.Called(ctx, tenantID, subthemeIDs, groupIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Lineage), args.Error(1)
}

func TestResolver_PlanLineageError(t *testing.T) {
	taxonomy := new(MockTaxonomy)
	taxonomy.On("Lineage", mock.Anything, tenant, []uint{s1}, []uint(nil)).Return(nil, errors.New("redis down"))
	r := NewResolver(aggregate.NewStore(nil), aggregate.NewHealth(), memory.NewSource(), taxonomy, nil, PolicyAuto, nil)

	_, err := r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, []uint{s1}, nil))

	assert.Error(t, err)
	taxonomy.AssertExpectations(t)
}

func TestResolver_WholeTenantSkipsLineage(t *testing.T) {
	taxonomy := new(MockTaxonomy)
	r := NewResolver(aggregate.NewStore(nil), aggregate.NewHealth(), memory.NewSource(), taxonomy, nil, PolicyAuto, nil)

	res, err := r.Count(context.Background(), selection(entity.FilterAll, []uint{t1}, nil, nil))

	require.NoError(t, err)
	assert.Zero(t, res.Total, "Неизвестное пространство - пустое, а не ошибка")
	taxonomy.AssertNotCalled(t, "Lineage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ==========================================
// Кандидаты
// ==========================================

func TestResolver_CandidatesUnanswered(t *testing.T) {
	f := newFixture(t, PolicyAuto)
	a := f.add(t, 5, entity.Placement{ThemeID: t1, SubthemeID: s1})
	f.add(t, 5, entity.Placement{ThemeID: t2})
	f.flag(t, 9, entity.StatusAnswered, a[:2])

	spec := selection(entity.FilterUnanswered, nil, []uint{s1}, nil)
	spec.UserID = 9
	set, degraded, err := f.r.Candidates(context.Background(), spec)

	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, uint64(3), set.GetCardinality())
	for _, id := range a[2:] {
		assert.True(t, set.Contains(uint64(id)))
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAuto, p)

	p, err = ParsePolicy("scan")
	require.NoError(t, err)
	assert.Equal(t, PolicyScan, p)

	_, err = ParsePolicy("guess")
	assert.Error(t, err)
}
