package helper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yourusername/qbank-api/internal/domain/entity"
)

// QuestionOption представляет вариант ответа для клиента
type QuestionOption struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ConvertOptionsToObjects преобразует массив строк в массив объектов с id и text.
// ID использует 0-based индексацию, как CorrectOption в базе данных.
func ConvertOptionsToObjects(options entity.StringArray) []QuestionOption {
	converted := make([]QuestionOption, len(options))
	for i, opt := range options {
		if opt == "" {
			opt = "(пустой вариант)"
		}
		converted[i] = QuestionOption{ID: i, Text: opt}
	}
	return converted
}

// ParseIDList разбирает список идентификаторов вида "1,2,3" из строки запроса.
// Пустая строка означает пустой список.
func ParseIDList(s string) ([]uint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
