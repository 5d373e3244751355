package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	ledgerMutationCounter *prometheus.CounterVec
	settlementCounter     *prometheus.CounterVec
	otpValidationCounter  *prometheus.CounterVec
	callbackCounter       *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	dispatchClaimGauge    prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerMutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_mutations_total",
			Help: "Wallet ledger mutation outcomes",
		}, []string{"type", "outcome"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Settlement request state transitions",
		}, []string{"status"})

		otpValidationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_validations_total",
			Help: "OTP validation outcomes",
		}, []string{"result"})

		callbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_callbacks_total",
			Help: "Inbound provider callback outcomes",
		}, []string{"outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		dispatchClaimGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_dispatch_claimed",
			Help: "Settlement requests claimed in the last dispatch cycle",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerMutationCounter,
			settlementCounter,
			otpValidationCounter,
			callbackCounter,
			idempotencyCounter,
			workerRunCounter,
			dispatchClaimGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerMutation(txType, outcome string) {
	if ledgerMutationCounter == nil {
		return
	}
	ledgerMutationCounter.WithLabelValues(txType, outcome).Inc()
}

func IncrementSettlementTransition(status string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(status).Inc()
}

func IncrementOTPValidation(result string) {
	if otpValidationCounter == nil {
		return
	}
	otpValidationCounter.WithLabelValues(result).Inc()
}

func IncrementCallback(outcome string) {
	if callbackCounter == nil {
		return
	}
	callbackCounter.WithLabelValues(outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func SetDispatchClaimed(n int) {
	if dispatchClaimGauge == nil {
		return
	}
	dispatchClaimGauge.Set(float64(n))
}
