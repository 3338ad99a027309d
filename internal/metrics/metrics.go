package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 索引流水线指标
var (
	// IndexSourcesTotal 按状态统计的知识源处理总数
	IndexSourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_index_sources_total",
			Help: "索引流水线处理的知识源总数",
		},
		[]string{"status"},
	)

	// IndexSourceDuration 单个知识源的索引耗时（秒）
	IndexSourceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_index_source_duration_seconds",
			Help:    "单个知识源索引耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// IndexChunksUpserted 写入向量库的分块总数
	IndexChunksUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_index_chunks_upserted_total",
			Help: "写入向量库的分块总数",
		},
	)
)

// 检索指标
var (
	// SearchesTotal 混合检索总数
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_searches_total",
			Help: "混合检索请求总数",
		},
		[]string{"status"},
	)

	// SearchDuration 混合检索耗时（秒）
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_search_duration_seconds",
			Help:    "混合检索耗时分布",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// SearchResults 单次检索返回的结果数
	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_search_results",
			Help:    "单次混合检索返回的结果数分布",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)
)
