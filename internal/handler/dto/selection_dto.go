package dto

import (
	"fmt"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/handler/helper"
	"github.com/yourusername/qbank-api/internal/service/sampler"
)

// CountQuery - параметры строки запроса для подсчёта (списки id через запятую)
type CountQuery struct {
	Filter    string `form:"filter"`
	UserID    uint   `form:"user_id"`
	Themes    string `form:"themes"`
	Subthemes string `form:"subthemes"`
	Groups    string `form:"groups"`
}

// Spec преобразует параметры в выборку тенанта
func (q CountQuery) Spec(tenantID uint) (entity.SelectionSpec, error) {
	filter, err := entity.ParseSelectionFilter(q.Filter)
	if err != nil {
		return entity.SelectionSpec{}, err
	}
	spec := entity.SelectionSpec{TenantID: tenantID, UserID: q.UserID, Filter: filter}
	if spec.ThemeIDs, err = helper.ParseIDList(q.Themes); err != nil {
		return entity.SelectionSpec{}, fmt.Errorf("themes: %w", err)
	}
	if spec.SubthemeIDs, err = helper.ParseIDList(q.Subthemes); err != nil {
		return entity.SelectionSpec{}, fmt.Errorf("subthemes: %w", err)
	}
	if spec.GroupIDs, err = helper.ParseIDList(q.Groups); err != nil {
		return entity.SelectionSpec{}, fmt.Errorf("groups: %w", err)
	}
	return spec, nil
}

// SelectionRequest - выборка в теле запроса
type SelectionRequest struct {
	Filter    string `json:"filter"`
	UserID    uint   `json:"user_id"`
	Themes    []uint `json:"themes"`
	Subthemes []uint `json:"subthemes"`
	Groups    []uint `json:"groups"`
}

// Spec преобразует запрос в выборку тенанта
func (r SelectionRequest) Spec(tenantID uint) (entity.SelectionSpec, error) {
	filter, err := entity.ParseSelectionFilter(r.Filter)
	if err != nil {
		return entity.SelectionSpec{}, err
	}
	return entity.SelectionSpec{
		TenantID:    tenantID,
		UserID:      r.UserID,
		Filter:      filter,
		ThemeIDs:    r.Themes,
		SubthemeIDs: r.Subthemes,
		GroupIDs:    r.Groups,
	}, nil
}

// SampleRequest - запрос случайной выборки k вопросов
type SampleRequest struct {
	SelectionRequest
	K int `json:"k" binding:"required,min=1"`
}

// BatchItemRequest - одна выборка пакета с весом
type BatchItemRequest struct {
	SelectionRequest
	Weight float64 `json:"weight" binding:"min=0"`
}

// BatchSampleRequest - пакетная выборка с распределением total по весам.
// user_id пакета подставляется в элементы, где он не указан.
type BatchSampleRequest struct {
	UserID uint               `json:"user_id"`
	Total  int                `json:"total" binding:"required,min=1"`
	Items  []BatchItemRequest `json:"items" binding:"required,min=1,dive"`
}

// Batch преобразует запрос в пакет сэмплера
func (r BatchSampleRequest) Batch(tenantID uint) (sampler.BatchRequest, error) {
	out := sampler.BatchRequest{Total: r.Total, Items: make([]sampler.BatchItem, 0, len(r.Items))}
	for i, item := range r.Items {
		if item.UserID == 0 {
			item.UserID = r.UserID
		}
		spec, err := item.Spec(tenantID)
		if err != nil {
			return sampler.BatchRequest{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		out.Items = append(out.Items, sampler.BatchItem{Selection: spec, Weight: item.Weight})
	}
	return out, nil
}
