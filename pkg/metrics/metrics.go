package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PunchesAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_punches_awarded_total",
		Help: "Number of punch ledger rows written.",
	})

	RewardsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_rewards_issued_total",
		Help: "Number of completed punch-card cycles that issued a pending reward.",
	})

	RewardsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_rewards_redeemed_total",
		Help: "Number of rewards consumed at checkout.",
	})

	ReferralsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_referrals_settled_total",
		Help: "Number of referrals whose bonuses were awarded.",
	})

	AccountConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_account_conflicts_total",
		Help: "Optimistic-concurrency conflicts on account writes that triggered a retry.",
	})
)
