package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/namespace"
	"github.com/yourusername/qbank-api/internal/repository/memory"
	"github.com/yourusername/qbank-api/internal/service/repair"
)

func seedSource(t *testing.T) *memory.Source {
	t.Helper()
	ctx := context.Background()
	src := memory.NewSource()
	for i := 0; i < 3; i++ {
		q := &entity.Question{TenantID: 1, ThemeID: 100, Text: "Вопрос", Options: entity.StringArray{"а", "б"}}
		require.NoError(t, src.Create(ctx, q))
		if i == 0 {
			state := &entity.UserQuestionState{UserID: 7, QuestionID: q.ID, TenantID: 1}
			state.SetFlags(entity.UserFlags{Bookmarked: true})
			require.NoError(t, src.Upsert(ctx, state))
		}
	}
	return src
}

func TestVerifyTenants(t *testing.T) {
	// Arrange
	src := seedSource(t)

	// Act
	rows, err := verifyTenants(context.Background(), src, nil, 2, nil)

	// Assert
	require.NoError(t, err)
	require.Len(t, rows, len(namespace.Classes()))
	verified := make(map[namespace.Class]int)
	for _, row := range rows {
		assert.Equal(t, uint(1), row.TenantID)
		assert.Empty(t, row.Mismatches, row.Class)
		verified[row.Class] = row.Verified
	}
	assert.Equal(t, 3, verified[namespace.ClassGlobal])
	assert.Equal(t, 3, verified[namespace.ClassTheme])
	assert.Equal(t, 0, verified[namespace.ClassSubtheme])
	assert.Equal(t, 2, verified[namespace.ClassBookmarked], "Пользовательские пространства: общее и темы")
}

func TestVerifyTenants_ExplicitEmptyTenant(t *testing.T) {
	rows, err := verifyTenants(context.Background(), seedSource(t), []uint{42}, 10, nil)

	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, uint(42), row.TenantID)
		assert.Zero(t, row.Verified)
	}
}

func TestVerifyTenants_SourceError(t *testing.T) {
	src := seedSource(t)
	src.FailReads(errors.New("connection refused"))

	_, err := verifyTenants(context.Background(), src, []uint{1}, 10, nil)

	assert.Error(t, err)
}

func TestPrintVerify(t *testing.T) {
	var out bytes.Buffer
	rows := []verifyRow{
		{TenantID: 1, Class: namespace.ClassGlobal, Verified: 3},
		{TenantID: 1, Class: namespace.ClassTheme, Verified: 2, Mismatches: []repair.Mismatch{
			{Namespace: "1/theme:5", Expected: 2, Actual: 1},
		}},
	}

	total := printVerify(&out, rows)

	assert.Equal(t, 1, total)
	assert.Contains(t, out.String(), "TENANT")
	assert.Contains(t, out.String(), "mismatch 1/theme:5: expected 2, actual 1")
}

func TestPrintSnapshot(t *testing.T) {
	t.Run("нет снимка", func(t *testing.T) {
		var out bytes.Buffer
		printSnapshot(&out, 0, aggregate.NewStore(nil).Stats(false))
		assert.Equal(t, "no snapshot found\n", out.String())
	})

	t.Run("есть пространства", func(t *testing.T) {
		store := aggregate.NewStore(nil)
		_, _ = store.Insert("1/global", 1)
		_, _ = store.Insert("1/global", 2)
		_, _ = store.Insert("1/theme:3", 1)

		var out bytes.Buffer
		printSnapshot(&out, 3, store.Stats(false))

		assert.Contains(t, out.String(), "namespaces: 2")
		assert.Contains(t, out.String(), "  global: 2")
		assert.Contains(t, out.String(), "  theme: 1")
	})
}
