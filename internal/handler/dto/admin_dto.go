package dto

import (
	"github.com/yourusername/qbank-api/internal/namespace"
	"github.com/yourusername/qbank-api/internal/service/repair"
)

// RepairRequest - запрос оператора на ремонт области.
// Без run_to_completion обрабатывается одна страница.
type RepairRequest struct {
	Class           string `json:"class"`
	TenantID        uint   `json:"tenant_id"`
	Namespace       string `json:"namespace"`
	PageSize        int    `json:"page_size" binding:"min=0"`
	Cursor          *uint  `json:"cursor"`
	Mode            string `json:"mode"`
	Restart         bool   `json:"restart"`
	RunToCompletion bool   `json:"run_to_completion"`
}

// Request преобразует запрос в запрос движка ремонта
func (r RepairRequest) Request() repair.Request {
	return repair.Request{
		Scope: repair.Scope{
			Class:     namespace.Class(r.Class),
			TenantID:  r.TenantID,
			Namespace: namespace.Namespace(r.Namespace),
		},
		PageSize: r.PageSize,
		Cursor:   r.Cursor,
		Mode:     repair.Mode(r.Mode),
		Restart:  r.Restart,
	}
}

// RepairStatusQuery - область для запроса состояния ремонта
type RepairStatusQuery struct {
	Class     string `form:"class"`
	TenantID  uint   `form:"tenant_id"`
	Namespace string `form:"namespace"`
}

// Empty сообщает, что область не указана
func (q RepairStatusQuery) Empty() bool {
	return q.Class == "" && q.Namespace == ""
}

// Scope преобразует запрос в область ремонта
func (q RepairStatusQuery) Scope() repair.Scope {
	return repair.Scope{
		Class:     namespace.Class(q.Class),
		TenantID:  q.TenantID,
		Namespace: namespace.Namespace(q.Namespace),
	}
}
