// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/log"
	"github.com/evmts/guillotine-go/params"
)

const (
	// analyzedCodeCacheSize is the number of CodeAnalysis artifacts kept in
	// the LRU, sized for a hot working set of contracts.
	analyzedCodeCacheSize = 4096
	// bitmapCacheSizeBytes bounds the byte-cache of raw jumpdest bitmaps.
	// Bitmaps are 1/8th of the code size, so this holds far more entries
	// than the LRU and keeps evicted contracts cheap to re-admit.
	bitmapCacheSizeBytes = 16 * 1024 * 1024
)

// analyzer owns a jump table and the caches for analyses produced under it.
// Analyses embed constant-gas aggregates, so artifacts are only reusable
// between interpreters priced by the same schedule; each distinct GasTable
// gets its own analyzer.
type analyzer struct {
	table JumpTable

	// analyzed caches *CodeAnalysis keyed by code hash.
	analyzed *lru.Cache
	// bitmaps caches raw jumpdest bitmaps keyed by code hash, surviving
	// LRU eviction.
	bitmaps *fastcache.Cache
	// group collapses concurrent analyses of the same code hash.
	group singleflight.Group
}

// defaultAnalyzer serves every interpreter running the default gas schedule.
var defaultAnalyzer = newAnalyzer(params.DefaultGasTable())

func newAnalyzer(gt params.GasTable) *analyzer {
	cache, err := lru.New(analyzedCodeCacheSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &analyzer{
		table:    newInstructionSet(gt),
		analyzed: cache,
		bitmaps:  fastcache.New(bitmapCacheSizeBytes),
	}
}

// analysisFor returns the analysis of the contract's code, producing and
// caching it on a miss. Contracts without a code hash (initcode) are analyzed
// per call and never cached.
func (az *analyzer) analysisFor(contract *Contract) (*CodeAnalysis, error) {
	if contract.CodeHash == (common.Hash{}) {
		return analyzeCode(contract.Code, &az.table)
	}
	if cached, ok := az.analyzed.Get(contract.CodeHash); ok {
		analysisCacheHits.Inc()
		return cached.(*CodeAnalysis), nil
	}
	analysisCacheMisses.Inc()

	v, err, _ := az.group.Do(string(contract.CodeHash.Bytes()), func() (interface{}, error) {
		if cached, ok := az.analyzed.Get(contract.CodeHash); ok {
			return cached.(*CodeAnalysis), nil
		}
		analysis, err := analyzeCode(contract.Code, &az.table)
		if err != nil {
			return nil, err
		}
		// Recycle a previously computed bitmap when one survived LRU
		// eviction; otherwise remember the fresh one.
		if bm := az.bitmaps.Get(nil, contract.CodeHash.Bytes()); len(bm) > 0 {
			analysis.jumpdests = bitvec(bm)
		} else {
			az.bitmaps.Set(contract.CodeHash.Bytes(), analysis.jumpdests)
		}
		if evicted := az.analyzed.Add(contract.CodeHash, analysis); evicted {
			log.L().Debug("analyzed code cache evicted entry",
				zap.Stringer("admitted", contract.CodeHash),
				zap.Int("codeSize", len(contract.Code)))
		}
		return analysis, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CodeAnalysis), nil
}
