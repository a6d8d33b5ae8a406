package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики слоя агрегатов. Сервисы (резолвер, сэмплер, ремонт) пишут
// в экспортируемые векторы, чтобы все метрики жили в одном месте.
var (
	aggregateOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbank_aggregate_ops_total",
		Help: "Applied aggregate operations by kind",
	}, []string{"kind"})

	aggregateCorruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbank_aggregate_corruptions_total",
		Help: "Detected aggregate invariant violations",
	})

	aggregateNamespaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qbank_aggregate_namespaces",
		Help: "Number of known aggregate namespaces",
	})

	// FallbackScans - подсчёты, выполненные сканированием источника вместо агрегата
	FallbackScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbank_fallback_scans_total",
		Help: "Source scans performed instead of aggregate lookups",
	}, []string{"reason"})

	// Draws - выборки по бэкенду (aggregate/set)
	Draws = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbank_sampler_draws_total",
		Help: "Random draws by backend",
	}, []string{"backend"})

	// DrawSize - размер возвращённых выборок
	DrawSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbank_sampler_draw_size",
		Help:    "Number of ids returned by a draw",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
	})

	// RepairPages - обработанные страницы ремонта по классу
	RepairPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbank_repair_pages_total",
		Help: "Repair pages processed by namespace class",
	}, []string{"class"})

	// RepairOutcomes - итоги проверок после ремонта
	RepairOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbank_repair_outcomes_total",
		Help: "Repair verification outcomes",
	}, []string{"class", "outcome"})

	// ResolveDuration - длительность разрешения иерархической выборки
	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbank_resolve_duration_seconds",
		Help:    "Time to resolve a hierarchical selection",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"filter"})
)
