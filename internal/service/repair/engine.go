// Package repair восстанавливает агрегаты из источника истины:
// очистка, постраничная перестройка с курсором и независимая проверка счётчиков.
package repair

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yourusername/qbank-api/internal/aggregate"
	"github.com/yourusername/qbank-api/internal/domain/repository"
	"github.com/yourusername/qbank-api/internal/namespace"
	apperrors "github.com/yourusername/qbank-api/internal/pkg/errors"
	"github.com/yourusername/qbank-api/pkg/logger"
)

// State - состояние задания ремонта
type State string

const (
	StateIdle       State = "idle"
	StateClearing   State = "clearing"
	StateRebuilding State = "rebuilding"
	StateVerifying  State = "verifying"
	StateFailed     State = "failed"
)

// Mode - режим ремонта
type Mode string

const (
	// ModeFull: очистка пространств и перестройка с нуля
	ModeFull Mode = "full"
	// ModeIncremental: без очистки, только дозаполнение (после восстановления снимка)
	ModeIncremental Mode = "incremental"
)

// Время жизни сохранённого задания в Redis
const jobTTL = 7 * 24 * time.Hour

// JobStore хранит задания между перезапусками (реализуется redis.CacheRepo)
type JobStore interface {
	SetJSON(key string, value interface{}, expiration time.Duration) error
	GetJSON(key string, dest interface{}) error
}

// Request - запрос на шаг ремонта
type Request struct {
	Scope    Scope `json:"scope"`
	PageSize int   `json:"page_size,omitempty"`
	// Cursor переопределяет сохранённый курсор
	Cursor  *uint `json:"cursor,omitempty"`
	Mode    Mode  `json:"mode,omitempty"`
	Restart bool  `json:"restart,omitempty"`
}

// Job - состояние задания ремонта области
type Job struct {
	ID            string    `json:"id"`
	Scope         Scope     `json:"scope"`
	Mode          Mode      `json:"mode"`
	State         State     `json:"state"`
	Cursor        uint      `json:"cursor"`
	Pages         int       `json:"pages"`
	Processed     int       `json:"processed"`
	Updated       int       `json:"updated"`
	VerifiedCount int       `json:"verified_count"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PageResult - итог одной страницы. На последней странице Step сразу проверяет
// область, и Final содержит итог проверки.
type PageResult struct {
	JobID     string       `json:"job_id"`
	Processed int          `json:"processed"`
	Updated   int          `json:"updated"`
	HasMore   bool         `json:"has_more"`
	Cursor    uint         `json:"cursor"`
	State     State        `json:"state"`
	Final     *FinalResult `json:"final,omitempty"`
}

// Mismatch - расхождение ожидаемого и фактического размера пространства
type Mismatch struct {
	Namespace namespace.Namespace `json:"namespace"`
	Expected  int                 `json:"expected"`
	Actual    int                 `json:"actual"`
}

// FinalResult - итог проверки
type FinalResult struct {
	JobID         string     `json:"job_id"`
	Done          bool       `json:"done"`
	VerifiedCount int        `json:"verified_count"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
	State         State      `json:"state"`
}

// Engine выполняет ремонт. Одна область обрабатывается одной горутиной за раз.
type Engine struct {
	store      *aggregate.Store
	health     *aggregate.Health
	source     repository.AggregateSourceRepository
	jobStore   JobStore
	instanceID string
	pageSize   int
	limiter    *rate.Limiter
	log        *logger.Logger

	mu      sync.Mutex
	running map[string]bool
	jobs    map[string]*Job
}

// NewEngine создает движок ремонта. pagesPerSecond <= 0 отключает ограничение скорости;
// jobStore может быть nil (задания живут только в памяти).
func NewEngine(
	store *aggregate.Store,
	health *aggregate.Health,
	source repository.AggregateSourceRepository,
	jobStore JobStore,
	instanceID string,
	pageSize int,
	pagesPerSecond float64,
	log *logger.Logger,
) *Engine {
	limit := rate.Inf
	if pagesPerSecond > 0 {
		limit = rate.Limit(pagesPerSecond)
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Engine{
		store:      store,
		health:     health,
		source:     source,
		jobStore:   jobStore,
		instanceID: instanceID,
		pageSize:   pageSize,
		limiter:    rate.NewLimiter(limit, 1),
		log:        logger.OrNop(log),
		running:    make(map[string]bool),
		jobs:       make(map[string]*Job),
	}
}

func (e *Engine) jobKey(scope Scope) string {
	return "repair:job:" + e.instanceID + ":" + scope.Key()
}

// acquire захватывает область; ErrRepairInProgress, если она уже обрабатывается
func (e *Engine) acquire(scope Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[scope.Key()] {
		return fmt.Errorf("%w: %s", apperrors.ErrRepairInProgress, scope)
	}
	e.running[scope.Key()] = true
	return nil
}

func (e *Engine) release(scope Scope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, scope.Key())
}

// loadJob возвращает задание из памяти или из Redis (nil, если заданий не было).
// Задание из Redis осталось от прежнего процесса: курсор относится к хранилищу,
// которого больше нет, поэтому продолжать его нельзя (см. startOrResume).
func (e *Engine) loadJob(scope Scope) (job *Job, local bool) {
	e.mu.Lock()
	cached, ok := e.jobs[scope.Key()]
	e.mu.Unlock()
	if ok {
		copied := *cached
		return &copied, true
	}
	if e.jobStore == nil {
		return nil, false
	}
	var stored Job
	if err := e.jobStore.GetJSON(e.jobKey(scope), &stored); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			e.log.Warnf("[Repair] Не удалось прочитать задание %s: %v", scope, err)
		}
		return nil, false
	}
	return &stored, false
}

// saveJob сохраняет задание в памяти и в Redis. Ошибка Redis не прерывает ремонт.
func (e *Engine) saveJob(job *Job) {
	job.UpdatedAt = time.Now()
	copied := *job
	e.mu.Lock()
	e.jobs[job.Scope.Key()] = &copied
	e.mu.Unlock()
	if e.jobStore == nil {
		return
	}
	if err := e.jobStore.SetJSON(e.jobKey(job.Scope), job, jobTTL); err != nil {
		e.log.Warnf("[Repair] Не удалось сохранить задание %s: %v", job.Scope, err)
	}
}

func newJob(scope Scope, mode Mode) *Job {
	if mode == "" {
		mode = ModeFull
	}
	state := StateClearing
	if mode == ModeIncremental {
		state = StateRebuilding
	}
	return &Job{
		ID:        uuid.New().String(),
		Scope:     scope,
		Mode:      mode,
		State:     state,
		StartedAt: time.Now(),
	}
}

func prepare(req Request) (Scope, error) {
	if err := req.Scope.Validate(); err != nil {
		return Scope{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	switch req.Mode {
	case "", ModeFull, ModeIncremental:
	default:
		return Scope{}, fmt.Errorf("%w: unknown repair mode %q", apperrors.ErrValidation, req.Mode)
	}
	if req.PageSize < 0 {
		return Scope{}, fmt.Errorf("%w: page_size must not be negative", apperrors.ErrValidation)
	}
	return req.Scope.normalized()
}

// Step обрабатывает одну страницу ремонта
func (e *Engine) Step(ctx context.Context, req Request) (*PageResult, error) {
	scope, err := prepare(req)
	if err != nil {
		return nil, err
	}
	if err := e.acquire(scope); err != nil {
		return nil, err
	}
	defer e.release(scope)

	job := e.startOrResume(scope, req)
	page, err := e.step(ctx, job, req)
	if err != nil || page.State != StateVerifying {
		return page, err
	}

	// Последняя страница: проверяем сразу, иначе задание навсегда останется в verifying
	final, err := e.verify(ctx, job)
	if final != nil {
		page.Final = final
		page.State = final.State
	}
	return page, err
}

// startOrResume возвращает текущее задание области или начинает новое.
// Продолжается только задание этого процесса: незавершённое задание из Redis
// описывает хранилище прежнего процесса и начинается заново.
func (e *Engine) startOrResume(scope Scope, req Request) *Job {
	job, local := e.loadJob(scope)
	if job != nil && !local && !req.Restart && job.State != StateIdle && job.State != StateFailed {
		e.log.Infof("[Repair] %s: задание %s прежнего процесса (%s, курсор %d) начинается заново",
			scope, job.ID, job.State, job.Cursor)
		job = nil
	}
	if job == nil || req.Restart || job.State == StateFailed || job.State == StateIdle {
		job = newJob(scope, req.Mode)
		e.log.Infof("[Repair] Задание %s для %s (режим %s)", job.ID, scope, job.Mode)
	}
	if req.Cursor != nil && job.State != StateVerifying {
		job.Cursor = *req.Cursor
	}
	return job
}

// step выполняет очистку (если нужно) и одну страницу перестройки
func (e *Engine) step(ctx context.Context, job *Job, req Request) (*PageResult, error) {
	// До успешной проверки счётчики области читаются из источника
	e.health.MarkRebuilding(job.Scope.Key(), job.Scope.Matches)

	if job.State == StateClearing {
		cleared := e.clear(job.Scope)
		e.log.Infof("[Repair] %s: очищено %d записей", job.Scope, cleared)
		job.State = StateRebuilding
		job.Cursor = 0
		if req.Cursor != nil {
			job.Cursor = *req.Cursor
		}
		e.saveJob(job)
	}

	if job.State == StateVerifying {
		return &PageResult{JobID: job.ID, Cursor: job.Cursor, State: job.State}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = e.pageSize
	}
	rows, err := e.source.ScanPage(ctx, repository.PageQuery{
		TenantID: job.Scope.TenantID,
		Status:   job.Scope.status(),
		AfterID:  job.Cursor,
		Limit:    pageSize,
	})
	if err != nil {
		job.LastError = err.Error()
		e.saveJob(job)
		return nil, fmt.Errorf("scan page after %d: %w", job.Cursor, err)
	}

	var ops []aggregate.Op
	for _, row := range rows {
		ops = append(ops, aggregate.InsertOps(uint64(row.QuestionID), job.Scope.namespacesFor(row))...)
	}
	applied, err := e.store.Apply(ops)
	if err != nil {
		// Вставки не проверяют дерево; ошибка здесь означает нарушение инвариантов
		e.log.Errorf("[Repair] %s: ошибка применения страницы: %v", job.Scope, err)
	}

	if len(rows) > 0 {
		job.Cursor = rows[len(rows)-1].RowID
	}
	job.Pages++
	job.Processed += len(rows)
	job.Updated += applied.Inserted
	hasMore := len(rows) == pageSize
	if !hasMore {
		job.State = StateVerifying
	}
	job.LastError = ""
	e.saveJob(job)
	aggregate.RepairPages.WithLabelValues(string(job.Scope.Class)).Inc()

	return &PageResult{
		JobID:     job.ID,
		Processed: len(rows),
		Updated:   applied.Inserted,
		HasMore:   hasMore,
		Cursor:    job.Cursor,
		State:     job.State,
	}, nil
}

// clear очищает пространства области. Пока идёт очистка, счётчики временно равны нулю.
func (e *Engine) clear(scope Scope) int {
	if scope.Namespace != "" {
		return e.store.Clear(scope.Namespace)
	}
	return e.store.ClearMatching(scope.Matches)
}

// Verify пересчитывает ожидаемые размеры пространств из источника и сравнивает с агрегатами.
// Расхождение переводит задание в failed и возвращает ErrRepairIncomplete.
func (e *Engine) Verify(ctx context.Context, scope Scope) (*FinalResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	scope, err := scope.normalized()
	if err != nil {
		return nil, err
	}
	if err := e.acquire(scope); err != nil {
		return nil, err
	}
	defer e.release(scope)

	job, _ := e.loadJob(scope)
	if job == nil {
		job = newJob(scope, ModeIncremental)
		job.State = StateVerifying
	}
	if job.State == StateClearing || job.State == StateRebuilding {
		return nil, fmt.Errorf("%w: %s is still rebuilding (cursor %d)", apperrors.ErrConflict, scope, job.Cursor)
	}
	return e.verify(ctx, job)
}

func (e *Engine) verify(ctx context.Context, job *Job) (*FinalResult, error) {
	scope := job.Scope
	expected, err := e.expected(ctx, scope)
	if err != nil {
		job.LastError = err.Error()
		e.saveJob(job)
		return nil, err
	}

	res := &FinalResult{JobID: job.ID}
	for ns, want := range expected {
		got, err := e.store.Count(ns)
		if err != nil {
			got = -1
		}
		if got != want {
			res.Mismatches = append(res.Mismatches, Mismatch{Namespace: ns, Expected: want, Actual: got})
		}
		res.VerifiedCount += want
	}
	// Лишние пространства: в агрегате есть записи, а в источнике их нет
	for _, ns := range e.store.Namespaces() {
		if _, ok := expected[ns]; ok || !scope.Matches(ns) {
			continue
		}
		if got, err := e.store.Count(ns); err != nil || got != 0 {
			res.Mismatches = append(res.Mismatches, Mismatch{Namespace: ns, Expected: 0, Actual: got})
		}
	}
	sort.Slice(res.Mismatches, func(i, j int) bool { return res.Mismatches[i].Namespace < res.Mismatches[j].Namespace })

	if len(res.Mismatches) > 0 {
		job.State = StateFailed
		job.LastError = fmt.Sprintf("%d namespaces mismatched", len(res.Mismatches))
		e.saveJob(job)
		res.State = job.State
		aggregate.RepairOutcomes.WithLabelValues(string(scope.Class), "failed").Inc()
		e.log.Warnf("[Repair] %s: проверка не пройдена, расхождений: %d (первое: %s ожидалось %d, получено %d)",
			scope, len(res.Mismatches), res.Mismatches[0].Namespace, res.Mismatches[0].Expected, res.Mismatches[0].Actual)
		return res, fmt.Errorf("%w: %s", apperrors.ErrRepairIncomplete, job.LastError)
	}

	job.State = StateIdle
	job.VerifiedCount = res.VerifiedCount
	job.LastError = ""
	e.saveJob(job)
	if scope.Namespace != "" {
		e.health.MarkHealthy(scope.Namespace)
	} else {
		e.health.MarkHealthyMatching(scope.Matches)
	}
	e.clearRebuilding(scope)
	aggregate.RepairOutcomes.WithLabelValues(string(scope.Class), "ok").Inc()
	e.log.Infof("[Repair] %s: проверка пройдена, записей %d", scope, res.VerifiedCount)

	res.Done = true
	res.State = job.State
	return res, nil
}

// clearRebuilding снимает отметку перестройки области. Проверенная область
// всех тенантов покрывает и отметки отдельных тенантов того же класса.
func (e *Engine) clearRebuilding(scope Scope) {
	e.health.ClearRebuilding(scope.Key())
	if scope.Namespace != "" || scope.TenantID != 0 {
		return
	}
	prefix := "class:" + string(scope.Class) + ":"
	for _, key := range e.health.Rebuilding() {
		if strings.HasPrefix(key, prefix) {
			e.health.ClearRebuilding(key)
		}
	}
}

// MarkUnbuilt отмечает все классы как перестраиваемые: пока агрегаты не построены
// и не проверены, подсчёт идёт по источнику, а не по пустому хранилищу.
// Отметку класса снимает успешный ремонт класса по всем тенантам или Bootstrap.
func (e *Engine) MarkUnbuilt() {
	for _, class := range namespace.Classes() {
		scope := Scope{Class: class}
		e.health.MarkRebuilding(scope.Key(), scope.Matches)
	}
}

// expected пересчитывает размеры пространств области запросами GROUP BY
func (e *Engine) expected(ctx context.Context, scope Scope) (map[namespace.Namespace]int, error) {
	out := make(map[namespace.Namespace]int)
	for _, level := range scope.levels() {
		counts, err := e.source.CountGrouped(ctx, repository.GroupQuery{
			TenantID: scope.TenantID,
			Status:   scope.status(),
			Level:    level,
		})
		if err != nil {
			return nil, fmt.Errorf("count %s at %s: %w", scope, level, err)
		}
		for _, gc := range counts {
			ns := scope.expectedNamespace(level, gc)
			if scope.Namespace != "" && ns != scope.Namespace {
				continue
			}
			out[ns] = int(gc.Count)
		}
	}
	if scope.Namespace != "" {
		if _, ok := out[scope.Namespace]; !ok {
			out[scope.Namespace] = 0
		}
	}
	return out, nil
}

// Run выполняет шаги до конца и проверку. Между страницами проверяется ctx.
func (e *Engine) Run(ctx context.Context, req Request) (*FinalResult, error) {
	scope, err := prepare(req)
	if err != nil {
		return nil, err
	}
	if err := e.acquire(scope); err != nil {
		return nil, err
	}
	defer e.release(scope)

	job := e.startOrResume(scope, req)
	stepReq := req
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.step(ctx, job, stepReq)
		if err != nil {
			return nil, err
		}
		stepReq.Cursor = nil
		if !page.HasMore {
			break
		}
	}
	return e.verify(ctx, job)
}

// Status возвращает задание области (ErrNotFound, если его не было)
func (e *Engine) Status(scope Scope) (*Job, error) {
	scope, err := scope.normalized()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	job, _ := e.loadJob(scope)
	if job == nil {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

// Jobs возвращает задания, известные этому экземпляру
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.Key() < out[j].Scope.Key() })
	return out
}
