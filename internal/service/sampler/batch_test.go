package sampler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/internal/service/resolver"
)

func TestQuotas(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		total   int
		want    []int
	}{
		{"ровное деление", []float64{1, 1}, 10, []int{5, 5}},
		{"наибольший остаток", []float64{1, 1, 1}, 10, []int{4, 3, 3}},
		{"пропорционально", []float64{3, 1}, 10, []int{8, 2}},
		{"остатки по величине", []float64{45, 35, 20}, 10, []int{5, 3, 2}},
		{"нулевые веса - поровну", []float64{0, 0}, 3, []int{2, 1}},
		{"нулевой вес получает ноль", []float64{1, 0}, 4, []int{4, 0}},
		{"пустой пакет", nil, 5, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quotas(tt.weights, tt.total)

			assert.Equal(t, tt.want, got)
			sum := 0
			for _, q := range got {
				sum += q
			}
			if len(tt.weights) > 0 {
				assert.Equal(t, tt.total, sum)
			}
		})
	}
}

func TestSampler_DrawBatchProportional(t *testing.T) {
	// Arrange
	f := newFixture(t)
	a := f.add(t, 50, entity.Placement{ThemeID: t1})
	b := f.add(t, 50, entity.Placement{ThemeID: t2})
	s := f.sampler(resolver.PolicyAuto, ModePermutation)

	// Act
	res, err := s.DrawBatch(context.Background(), BatchRequest{
		Total: 20,
		Items: []BatchItem{
			{Selection: entity.SelectionSpec{TenantID: tenant, ThemeIDs: []uint{t1}}, Weight: 3},
			{Selection: entity.SelectionSpec{TenantID: tenant, ThemeIDs: []uint{t2}}, Weight: 1},
		},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []int{15, 5}, res.Quotas)
	assert.Equal(t, []int{15, 5}, res.Drawn)
	assert.Len(t, res.IDs, 20)
	assert.False(t, res.Exhausted)
	assertDistinctSubset(t, res.IDs, append(a, b...))
}

func TestSampler_DrawBatchOverlapIsToppedUp(t *testing.T) {
	// Обе выборки - одна и та же тема: независимые квоты пересекаются
	f := newFixture(t)
	pool := f.add(t, 12, entity.Placement{ThemeID: t1, SubthemeID: s1})
	s := f.sampler(resolver.PolicyAuto, ModePermutation)

	res, err := s.DrawBatch(context.Background(), BatchRequest{
		Total: 10,
		Items: []BatchItem{
			{Selection: entity.SelectionSpec{TenantID: tenant, ThemeIDs: []uint{t1}}, Weight: 1},
			{Selection: entity.SelectionSpec{TenantID: tenant, SubthemeIDs: []uint{s1}}, Weight: 1},
		},
	})

	require.NoError(t, err)
	assert.Len(t, res.IDs, 10)
	assertDistinctSubset(t, res.IDs, pool)
}

func TestSampler_DrawBatchMoreThanAvailable(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, 3, entity.Placement{ThemeID: t1})
	b := f.add(t, 20, entity.Placement{ThemeID: t2})
	s := f.sampler(resolver.PolicyAuto, ModePermutation)

	res, err := s.DrawBatch(context.Background(), BatchRequest{
		Total: 30,
		Items: []BatchItem{
			{Selection: entity.SelectionSpec{TenantID: tenant, ThemeIDs: []uint{t1}}, Weight: 1},
			{Selection: entity.SelectionSpec{TenantID: tenant, ThemeIDs: []uint{t2}}, Weight: 1},
		},
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, append(a, b...), res.IDs, "Возвращается максимум доступного")
	assert.True(t, res.Exhausted)
	assert.Equal(t, []int{3, 20}, res.Drawn)
}

func TestSampler_DrawBatchValidation(t *testing.T) {
	f := newFixture(t)
	s := f.sampler(resolver.PolicyAuto, ModePermutation)

	tests := []struct {
		name string
		req  BatchRequest
	}{
		{"пустой пакет", BatchRequest{Total: 5}},
		{"нулевой total", BatchRequest{Items: []BatchItem{{Selection: entity.SelectionSpec{TenantID: tenant}, Weight: 1}}}},
		{"отрицательный вес", BatchRequest{Total: 5, Items: []BatchItem{{Selection: entity.SelectionSpec{TenantID: tenant}, Weight: -1}}}},
		{"некорректная выборка", BatchRequest{Total: 5, Items: []BatchItem{{Selection: entity.SelectionSpec{}, Weight: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.DrawBatch(context.Background(), tt.req)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
		})
	}
}
