// Пакет notify — уведомления отправителям и администратору о событиях
// жизненного цикла фотографий.
//
// Сервис только формирует события; доставку писем выполняет внешний
// потребитель (outbox-файл, RabbitMQ или Kafka). Ошибка доставки
// никогда не отменяет операцию: Dispatcher только логирует её.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind — тип события.
type Kind string

const (
	KindSubmissionReceived Kind = "submission_received"
	KindApproved           Kind = "approved"
	KindRejected           Kind = "rejected"
	KindDeletionRequested  Kind = "deletion_requested"
	KindDeletionConfirmed  Kind = "deletion_confirmed"
	KindRecovered          Kind = "recovered"
	KindPurged             Kind = "purged"
)

// Event — событие для внешнего получателя.
type Event struct {
	Kind    Kind   `json:"kind"`
	PhotoID string `json:"photo_id"`
	FarmID  string `json:"farm_id"`
	State   string `json:"state"`

	// Recipients — адреса получателей (отправитель и/или администратор)
	Recipients []string `json:"recipients"`

	Actor string    `json:"actor,omitempty"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// Marshal сериализует событие в JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher — транспорт доставки событий.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "farmphotos_notifications_total",
	Help: "Количество уведомлений по типу и результату доставки",
}, []string{"kind", "outcome"})

// Dispatcher доставляет события через Publisher, не возвращая ошибок.
type Dispatcher struct {
	pub        Publisher
	adminEmail string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewDispatcher создаёт Dispatcher. pub == nil — уведомления отключены.
func NewDispatcher(pub Publisher, adminEmail string, logger *slog.Logger) *Dispatcher {
	if pub == nil {
		pub = Noop{}
	}
	return &Dispatcher{
		pub:        pub,
		adminEmail: adminEmail,
		timeout:    5 * time.Second,
		logger:     logger.With(slog.String("component", "notify")),
	}
}

// AdminEmail возвращает адрес администратора.
func (d *Dispatcher) AdminEmail() string {
	return d.adminEmail
}

// Send публикует событие. Ошибка доставки логируется и не возвращается.
func (d *Dispatcher) Send(ctx context.Context, e Event) {
	// Отмена запроса не отменяет доставку.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.pub.Publish(pubCtx, e); err != nil {
		deliveries.WithLabelValues(string(e.Kind), "error").Inc()
		d.logger.Warn("Ошибка доставки уведомления",
			slog.String("kind", string(e.Kind)),
			slog.String("photo_id", e.PhotoID),
			slog.String("error", err.Error()),
		)
		return
	}
	deliveries.WithLabelValues(string(e.Kind), "ok").Inc()
	d.logger.Debug("Уведомление отправлено",
		slog.String("kind", string(e.Kind)),
		slog.String("photo_id", e.PhotoID),
	)
}

// Close закрывает транспорт.
func (d *Dispatcher) Close() error {
	return d.pub.Close()
}

// Noop — транспорт, отбрасывающий события.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                          { return nil }
