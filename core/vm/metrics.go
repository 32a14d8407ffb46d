package vm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysisCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "analysis_cache_hits",
		Help:      "Number of code analyses served from the LRU cache.",
	})
	analysisCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "analysis_cache_misses",
		Help:      "Number of code analyses computed on a cache miss.",
	})
	blocksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "blocks_executed",
		Help:      "Number of basic blocks entered by the dispatch interpreter.",
	})
	shadowRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "shadow_runs",
		Help:      "Number of shadow-compared executions.",
	})
	shadowMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "shadow_mismatches",
		Help:      "Number of shadow executions that diverged.",
	})
	debugPauses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "debug_pauses",
		Help:      "Number of times a debug session parked an execution.",
	})
	debugAborts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evm",
		Name:      "debug_aborts",
		Help:      "Number of executions torn down by a debug hook.",
	})
)
