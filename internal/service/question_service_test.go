package service

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

// ==========================================
// Моки
// ==========================================

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ops []aggregate.Op) error {
	args := m.Called(ops)
	return args.Error(0)
}

// ==========================================
// Фикстура
// ==========================================

type questionFixture struct {
	src       *memory.Source
	store     *aggregate.Store
	publisher *MockPublisher
	svc       *QuestionService
	theme     *entity.Theme
	subtheme  *entity.Subtheme
	group     *entity.Group
	other     *entity.Subtheme
}

func newQuestionFixture(t *testing.T) *questionFixture {
	t.Helper()
	ctx := context.Background()
	src := memory.NewSource()
	store := aggregate.NewStore(nil)
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything).Return(nil).Maybe()
	svc := NewQuestionService(src, src, store, aggregate.NewHealth(), nil, publisher, nil)

	theme, err := svc.CreateTheme(ctx, 1, "Алгебра")
	require.NoError(t, err)
	subtheme, err := svc.CreateSubtheme(ctx, 1, theme.ID, "Уравнения")
	require.NoError(t, err)
	other, err := svc.CreateSubtheme(ctx, 1, theme.ID, "Неравенства")
	require.NoError(t, err)
	group, err := svc.CreateGroup(ctx, 1, subtheme.ID, "Квадратные")
	require.NoError(t, err)

	return &questionFixture{
		src: src, store: store, publisher: publisher, svc: svc,
		theme: theme, subtheme: subtheme, group: group, other: other,
	}
}

func (f *questionFixture) create(t *testing.T, subthemeID, groupID uint) *entity.Question {
	t.Helper()
	q, err := f.svc.CreateQuestion(context.Background(), 1, CreateQuestionInput{
		ThemeID:       f.theme.ID,
		SubthemeID:    subthemeID,
		GroupID:       groupID,
		Text:          "2+2?",
		Options:       []string{"3", "4"},
		CorrectOption: 1,
	})
	require.NoError(t, err)
	return q
}

func (f *questionFixture) count(t *testing.T, ns namespace.Namespace) int {
	t.Helper()
	n, err := f.store.Count(ns)
	require.NoError(t, err)
	return n
}

// ==========================================
// Таксономия
// ==========================================

func TestQuestionService_CreateTaxonomyValidation(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTheme(ctx, 1, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.CreateSubtheme(ctx, 2, f.theme.ID, "Чужая тема")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "Тема другого тенанта не видна")

	group, err := f.svc.CreateGroup(ctx, 1, f.other.ID, "Линейные")
	require.NoError(t, err)
	assert.Equal(t, f.theme.ID, group.ThemeID, "Тема группы берётся из подтемы")
}

// ==========================================
// Создание вопроса
// ==========================================

func TestQuestionService_CreateQuestion(t *testing.T) {
	// Arrange
	f := newQuestionFixture(t)

	// Act
	q := f.create(t, f.subtheme.ID, f.group.ID)

	// Assert
	for _, ns := range []namespace.Namespace{
		namespace.Global(1),
		namespace.Node(1, entity.LevelTheme, f.theme.ID),
		namespace.Node(1, entity.LevelSubtheme, f.subtheme.ID),
		namespace.Node(1, entity.LevelGroup, f.group.ID),
	} {
		assert.True(t, f.store.Contains(ns, uint64(q.ID)), ns)
	}
	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestQuestionService_CreateQuestionValidation(t *testing.T) {
	f := newQuestionFixture(t)

	tests := []struct {
		name  string
		input CreateQuestionInput
	}{
		{"пустой текст", CreateQuestionInput{ThemeID: f.theme.ID, Options: []string{"a", "b"}}},
		{"один вариант", CreateQuestionInput{ThemeID: f.theme.ID, Text: "?", Options: []string{"a"}}},
		{"неверный правильный ответ", CreateQuestionInput{ThemeID: f.theme.ID, Text: "?", Options: []string{"a", "b"}, CorrectOption: 5}},
		{"нет темы", CreateQuestionInput{Text: "?", Options: []string{"a", "b"}}},
		{"неизвестная тема", CreateQuestionInput{ThemeID: 999, Text: "?", Options: []string{"a", "b"}}},
		{"группа без подтемы", CreateQuestionInput{ThemeID: f.theme.ID, GroupID: f.group.ID, Text: "?", Options: []string{"a", "b"}}},
		{"группа из другой подтемы", CreateQuestionInput{ThemeID: f.theme.ID, SubthemeID: f.other.ID, GroupID: f.group.ID, Text: "?", Options: []string{"a", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateQuestion(context.Background(), 1, tt.input)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
	assert.Empty(t, f.store.Namespaces(), "Агрегаты не тронуты")
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything)
}

// ==========================================
// Удаление и перенос
// ==========================================

func TestQuestionService_DeleteQuestionRemovesUserNamespaces(t *testing.T) {
	// Arrange
	f := newQuestionFixture(t)
	ctx := context.Background()
	q := f.create(t, f.subtheme.ID, 0)
	keep := f.create(t, f.subtheme.ID, 0)
	_, err := f.svc.SetUserState(ctx, 1, 7, q.ID, entity.UserFlags{Answered: true, Bookmarked: true})
	require.NoError(t, err)

	// Act
	err = f.svc.DeleteQuestion(ctx, 1, q.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, namespace.Global(1)))
	assert.Equal(t, 1, f.count(t, namespace.Node(1, entity.LevelSubtheme, f.subtheme.ID)))
	assert.Zero(t, f.count(t, namespace.User(1, 7, entity.StatusAnswered)))
	assert.Zero(t, f.count(t, namespace.UserScoped(1, 7, entity.StatusBookmarked, entity.LevelTheme, f.theme.ID)))
	assert.True(t, f.store.Contains(namespace.Global(1), uint64(keep.ID)))

	states, err := f.src.ListByQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestQuestionService_DeleteQuestionOtherTenant(t *testing.T) {
	f := newQuestionFixture(t)
	q := f.create(t, 0, 0)

	err := f.svc.DeleteQuestion(context.Background(), 2, q.ID)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, f.count(t, namespace.Global(1)))
}

func TestQuestionService_MoveQuestion(t *testing.T) {
	// Arrange
	f := newQuestionFixture(t)
	ctx := context.Background()
	q := f.create(t, f.subtheme.ID, f.group.ID)
	_, err := f.svc.SetUserState(ctx, 1, 7, q.ID, entity.UserFlags{Incorrect: true})
	require.NoError(t, err)

	// Act
	moved, err := f.svc.MoveQuestion(ctx, 1, q.ID, entity.Placement{ThemeID: f.theme.ID, SubthemeID: f.other.ID})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, moved.SubthemeID)
	assert.Zero(t, moved.GroupID)

	id := uint64(q.ID)
	assert.False(t, f.store.Contains(namespace.Node(1, entity.LevelSubtheme, f.subtheme.ID), id))
	assert.False(t, f.store.Contains(namespace.Node(1, entity.LevelGroup, f.group.ID), id))
	assert.True(t, f.store.Contains(namespace.Node(1, entity.LevelSubtheme, f.other.ID), id))
	assert.True(t, f.store.Contains(namespace.Node(1, entity.LevelTheme, f.theme.ID), id), "Общий предок не меняется")
	assert.True(t, f.store.Contains(namespace.UserScoped(1, 7, entity.StatusIncorrect, entity.LevelSubtheme, f.other.ID), id))
	assert.False(t, f.store.Contains(namespace.UserScoped(1, 7, entity.StatusIncorrect, entity.LevelGroup, f.group.ID), id))
	assert.True(t, f.store.Contains(namespace.User(1, 7, entity.StatusIncorrect), id))
}

func TestQuestionService_MoveQuestionInvalidTarget(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()
	q := f.create(t, f.subtheme.ID, 0)

	_, err := f.svc.MoveQuestion(ctx, 1, q.ID, entity.Placement{ThemeID: 999})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	stored, err := f.src.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, f.subtheme.ID, stored.SubthemeID, "Транзакция откатилась")
	assert.True(t, f.store.Contains(namespace.Node(1, entity.LevelSubtheme, f.subtheme.ID), uint64(q.ID)))
}

// ==========================================
// Состояние пользователя
// ==========================================

func TestQuestionService_SetUserStateTransitions(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()
	q := f.create(t, f.subtheme.ID, 0)
	id := uint64(q.ID)
	answered := namespace.User(1, 7, entity.StatusAnswered)
	bookmarked := namespace.UserScoped(1, 7, entity.StatusBookmarked, entity.LevelSubtheme, f.subtheme.ID)

	tests := []struct {
		name           string
		flags          entity.UserFlags
		wantAnswered   bool
		wantBookmarked bool
	}{
		{"ответил", entity.UserFlags{Answered: true}, true, false},
		{"добавил закладку", entity.UserFlags{Answered: true, Bookmarked: true}, true, true},
		{"снял ответ", entity.UserFlags{Bookmarked: true}, false, true},
		{"снял всё", entity.UserFlags{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := f.svc.SetUserState(ctx, 1, 7, q.ID, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.flags, state.Flags())
			assert.Equal(t, tt.wantAnswered, f.store.Contains(answered, id))
			assert.Equal(t, tt.wantBookmarked, f.store.Contains(bookmarked, id))
		})
	}
}

func TestQuestionService_SetUserStateUnchangedIsNoop(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()
	q := f.create(t, 0, 0)
	_, err := f.svc.SetUserState(ctx, 1, 7, q.ID, entity.UserFlags{Answered: true})
	require.NoError(t, err)

	_, err = f.svc.SetUserState(ctx, 1, 7, q.ID, entity.UserFlags{Answered: true})

	require.NoError(t, err)
	f.publisher.AssertNumberOfCalls(t, "Publish", 2) // создание и первая отметка
}

func TestQuestionService_SetUserStateValidation(t *testing.T) {
	f := newQuestionFixture(t)
	q := f.create(t, 0, 0)

	_, err := f.svc.SetUserState(context.Background(), 1, 0, q.ID, entity.UserFlags{Answered: true})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.SetUserState(context.Background(), 1, 7, 999, entity.UserFlags{Answered: true})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQuestionService_PublishErrorDoesNotFailRequest(t *testing.T) {
	// Arrange
	src := memory.NewSource()
	store := aggregate.NewStore(nil)
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything).Return(errors.New("redis down"))
	svc := NewQuestionService(src, src, store, aggregate.NewHealth(), nil, publisher, nil)
	theme, err := svc.CreateTheme(context.Background(), 1, "T")
	require.NoError(t, err)

	// Act
	q, err := svc.CreateQuestion(context.Background(), 1, CreateQuestionInput{
		ThemeID: theme.ID, Text: "?", Options: []string{"a", "b"},
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, store.Contains(namespace.Global(1), uint64(q.ID)))
	publisher.AssertExpectations(t)
}

func TestDiff(t *testing.T) {
	removed, added := diff(
		[]namespace.Namespace{"1/global", "1/theme:1", "1/subtheme:2"},
		[]namespace.Namespace{"1/global", "1/theme:1", "1/subtheme:3"},
	)

	assert.Equal(t, []namespace.Namespace{"1/subtheme:2"}, removed)
	assert.Equal(t, []namespace.Namespace{"1/subtheme:3"}, added)
}
