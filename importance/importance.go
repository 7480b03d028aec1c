// Package importance computes the host-level bonus that spec §4.4 adds on
// top of a job's URL-derived priority: PageRank-derived standing plus a
// success/relevant track record, both keyed off the owning store.Server row.
package importance

import (
	"math"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

// Bonus implements spec §4.4's host importance formula, grounded on
// original_source/crawler/manager/server_importance.py's server_importance.
// It never panics: where the original's math.log would hit a domain error
// (ratio <= 0), the log term is skipped rather than propagating NaN into a
// priority ordering.
func Bonus(server *store.Server) float64 {
	cfg := tubcrawl.Config.Importance

	bonus := math.Min(cfg.PageRankCap, server.PageRank*cfg.PageRankWeight)

	if server.TotalDoneJobs <= 0 {
		return bonus
	}

	successRatio := float64(server.SuccessJobs) / float64(server.TotalDoneJobs)
	relevantRatio := float64(server.RelevantDocuments) / float64(server.TotalDoneJobs)
	theta := cfg.Theta

	if server.TotalDoneJobs > int64(cfg.MinSample) {
		if successRatio < theta {
			bonus -= cfg.SuccessPenalty
		} else {
			bonus += cfg.SuccessBonus * (successRatio - theta) * (successRatio - theta)
		}

		if relevantRatio < theta {
			arg := successRatio / (1 - (successRatio + 0.5*theta))
			if arg > 0 {
				bonus += math.Log(arg)
			}
		} else {
			bonus += cfg.RelevantBonus * (relevantRatio - theta) * (relevantRatio - theta)
		}
	} else {
		if successRatio < theta {
			bonus -= cfg.SuccessPenalty
		}
		if relevantRatio < theta {
			bonus -= cfg.RelevantPenalty
		}
	}

	if bonus < cfg.MinPriorityFloor {
		bonus = cfg.MinPriorityFloor
	}
	return bonus
}
