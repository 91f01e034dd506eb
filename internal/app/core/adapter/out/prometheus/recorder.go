package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoeShih716/go-txn-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-txn-ledger/internal/app/core/usecase"
)

// 結果 label
const (
	ResultOK                = "ok"
	ResultValidation        = "validation_error"
	ResultNotFound          = "not_found"
	ResultInsufficientFunds = "insufficient_funds"
	ResultStorage           = "storage_error"
	ResultError             = "error"
)

// Recorder 將帳本操作結果寫入 Prometheus
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
}

// NewRecorder 建立並註冊帳本 metrics
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total number of ledger operations by operation and result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"op"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Gated mutations rejected because the balance would become negative",
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(r.operations, r.duration, r.rejections)
	return r
}

// ObserveOperation implements usecase.Recorder.
func (r *Recorder) ObserveOperation(op string, err error, elapsed time.Duration) {
	r.operations.WithLabelValues(op, Result(err)).Inc()
	r.duration.WithLabelValues(op).Observe(elapsed.Seconds())

	var fundsErr *domain.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		r.rejections.WithLabelValues(fundsErr.Reason).Inc()
	}
}

// Result 將錯誤分類為 metrics label
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, domain.ErrValidation):
		return ResultValidation
	case errors.Is(err, domain.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return ResultInsufficientFunds
	case errors.Is(err, domain.ErrStorage):
		return ResultStorage
	default:
		return ResultError
	}
}

var _ usecase.Recorder = (*Recorder)(nil)
