package program

import (
	"errors"

	"github.com/coldbell/predict/backend/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultFailed   = "failed"
	resultDryRun   = "dry_run"
)

type processorMetrics struct {
	instructions *prometheus.CounterVec
	lamportsPaid prometheus.Counter
	lamportsIn   prometheus.Counter
}

func newProcessorMetrics(reg prometheus.Registerer) *processorMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &processorMetrics{
		instructions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "predict",
			Subsystem: "processor",
			Name:      "instructions_total",
			Help:      "Instructions executed, by instruction and result.",
		}, []string{"instruction", "result"}),
		lamportsPaid: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "predict",
			Subsystem: "processor",
			Name:      "lamports_paid_total",
			Help:      "Lamports paid out of markets to claimers, excluding reclaimed reserves.",
		}),
		lamportsIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "predict",
			Subsystem: "processor",
			Name:      "lamports_staked_total",
			Help:      "Lamports staked into markets by voters.",
		}),
	}
}

// recordResult labels a program error as rejected and anything else as failed.
func (m *processorMetrics) recordResult(instruction string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	var programErr Error
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrRollback):
		result = resultDryRun
	case errors.As(err, &programErr):
		result = resultRejected
	default:
		result = resultFailed
	}
	m.instructions.WithLabelValues(instruction, result).Inc()
}

func (m *processorMetrics) recordPayout(lamports uint64) {
	if m == nil || lamports == 0 {
		return
	}
	m.lamportsPaid.Add(float64(lamports))
}

func (m *processorMetrics) recordStake(lamports uint64) {
	if m == nil || lamports == 0 {
		return
	}
	m.lamportsIn.Add(float64(lamports))
}
