package importance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aksel-berge/tubcrawl"
	"github.com/aksel-berge/tubcrawl/store"
)

func TestMain(m *testing.M) {
	tubcrawl.SetDefaultConfig()
	m.Run()
}

func TestBonusUnvisitedServerUsesPageRankOnly(t *testing.T) {
	s := &store.Server{PageRank: 0.4}
	got := Bonus(s)
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestBonusPageRankIsCapped(t *testing.T) {
	s := &store.Server{PageRank: 10}
	got := Bonus(s)
	assert.Equal(t, tubcrawl.Config.Importance.PageRankCap, got)
}

func TestBonusPenalizesLowSuccessBelowMinSample(t *testing.T) {
	s := &store.Server{TotalDoneJobs: 2, SuccessJobs: 0, RelevantDocuments: 0}
	got := Bonus(s)
	assert.Less(t, got, 0.0)
}

func TestBonusRewardsHighSuccessAndRelevance(t *testing.T) {
	s := &store.Server{TotalDoneJobs: 100, SuccessJobs: 90, RelevantDocuments: 80}
	got := Bonus(s)
	assert.Greater(t, got, 0.0)
}

func TestBonusNeverBelowFloor(t *testing.T) {
	s := &store.Server{TotalDoneJobs: 1000, SuccessJobs: 0, RelevantDocuments: 0}
	got := Bonus(s)
	assert.GreaterOrEqual(t, got, tubcrawl.Config.Importance.MinPriorityFloor)
}
