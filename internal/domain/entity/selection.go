package entity

import (
	"fmt"
	"sort"
)

// SelectionFilter - фильтр выборки вопросов
type SelectionFilter string

const (
	FilterAll        SelectionFilter = "all"
	FilterUnanswered SelectionFilter = "unanswered"
	FilterIncorrect  SelectionFilter = "incorrect"
	FilterBookmarked SelectionFilter = "bookmarked"
	// FilterAnswered используется внутри для вычисления unanswered
	FilterAnswered SelectionFilter = "answered"
)

// ParseSelectionFilter разбирает фильтр из строки запроса ("" → all)
func ParseSelectionFilter(s string) (SelectionFilter, error) {
	switch SelectionFilter(s) {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUnanswered, FilterIncorrect, FilterBookmarked, FilterAnswered:
		return SelectionFilter(s), nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// UserStatus возвращает статус пользователя, соответствующий фильтру
func (f SelectionFilter) UserStatus() (UserStatus, bool) {
	switch f {
	case FilterAnswered:
		return StatusAnswered, true
	case FilterIncorrect:
		return StatusIncorrect, true
	case FilterBookmarked:
		return StatusBookmarked, true
	}
	return "", false
}

// NeedsUser сообщает, требует ли фильтр указания пользователя
func (f SelectionFilter) NeedsUser() bool {
	return f != FilterAll
}

// SelectionSpec - эфемерный запрос выборки. Пустые наборы узлов означают весь тенант.
type SelectionSpec struct {
	TenantID    uint            `json:"tenant_id"`
	UserID      uint            `json:"user_id,omitempty"`
	Filter      SelectionFilter `json:"filter"`
	ThemeIDs    []uint          `json:"themes,omitempty"`
	SubthemeIDs []uint          `json:"subthemes,omitempty"`
	GroupIDs    []uint          `json:"groups,omitempty"`
}

// Validate проверяет корректность выборки
func (s *SelectionSpec) Validate() error {
	if s.TenantID == 0 {
		return fmt.Errorf("tenant_id is required")
	}
	if s.Filter == "" {
		s.Filter = FilterAll
	}
	if _, err := ParseSelectionFilter(string(s.Filter)); err != nil {
		return err
	}
	if s.Filter.NeedsUser() && s.UserID == 0 {
		return fmt.Errorf("filter %q requires user_id", s.Filter)
	}
	for _, ids := range [][]uint{s.ThemeIDs, s.SubthemeIDs, s.GroupIDs} {
		for _, id := range ids {
			if id == 0 {
				return fmt.Errorf("taxonomy ids must be positive")
			}
		}
	}
	return nil
}

// IsWholeTenant сообщает, что ни один узел таксономии не выбран
func (s *SelectionSpec) IsWholeTenant() bool {
	return len(s.ThemeIDs) == 0 && len(s.SubthemeIDs) == 0 && len(s.GroupIDs) == 0
}

// WithFilter возвращает копию выборки с другим фильтром
func (s SelectionSpec) WithFilter(f SelectionFilter) SelectionSpec {
	s.Filter = f
	return s
}

// Normalize удаляет дубликаты и сортирует идентификаторы узлов
func (s *SelectionSpec) Normalize() {
	s.ThemeIDs = uniqueSorted(s.ThemeIDs)
	s.SubthemeIDs = uniqueSorted(s.SubthemeIDs)
	s.GroupIDs = uniqueSorted(s.GroupIDs)
}

func uniqueSorted(ids []uint) []uint {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
