package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/geofencer/internal/crossing"
	"github.com/roach88/geofencer/internal/geo"
)

// Default topics.
const (
	DefaultCrossingTopic     = "geofence.crossings"
	DefaultNotificationTopic = "geofence.notifications"
)

// DefaultPublishTimeout bounds a single publish. Responders run on the
// coordinator's loop, so a stuck broker must not hold it forever.
const DefaultPublishTimeout = 5 * time.Second

// KafkaResponder publishes each crossing event, keyed by geofence identifier.
// The message value is the event's Payload as JSON.
type KafkaResponder struct {
	producer EventProducer
	topic    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewKafkaResponder creates a responder. An empty topic uses
// DefaultCrossingTopic.
func NewKafkaResponder(producer EventProducer, topic string, logger *slog.Logger) *KafkaResponder {
	if topic == "" {
		topic = DefaultCrossingTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaResponder{
		producer: producer,
		topic:    topic,
		timeout:  DefaultPublishTimeout,
		logger:   logger,
	}
}

// Respond publishes e. Failures are logged; the crossing is not retried.
func (r *KafkaResponder) Respond(e geo.CrossingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.publish(ctx, e); err != nil {
		r.logger.Warn("crossing not published", "geofence", e.Geofence.Identifier, "action", e.Kind, "error", err)
	}
}

func (r *KafkaResponder) publish(ctx context.Context, e geo.CrossingEvent) error {
	value, err := json.Marshal(e.Payload())
	if err != nil {
		return fmt.Errorf("encode crossing: %w", err)
	}
	return r.producer.Publish(ctx, r.topic, e.Geofence.Identifier, value)
}

// Responder returns Respond as a crossing.Responder.
func (r *KafkaResponder) Responder() crossing.Responder {
	return r.Respond
}

// KafkaNotifier publishes local notifications instead of showing them.
type KafkaNotifier struct {
	producer EventProducer
	topic    string
}

var _ crossing.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier. An empty topic uses
// DefaultNotificationTopic.
func NewKafkaNotifier(producer EventProducer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	return &KafkaNotifier{producer: producer, topic: topic}
}

// Post implements crossing.Notifier.
func (n *KafkaNotifier) Post(ctx context.Context, note crossing.Notification) error {
	value, err := json.Marshal(notificationMessage{
		Identifier:       note.Identifier,
		Action:           string(note.Kind),
		Title:            note.Title,
		Body:             note.Body,
		AssociatedNodeID: note.AssociatedNodeID,
		Event:            note.Event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.producer.Publish(ctx, n.topic, note.Identifier, value)
}

type notificationMessage struct {
	Identifier       string         `json:"identifier"`
	Action           string         `json:"action"`
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	AssociatedNodeID string         `json:"associatedNodeId,omitempty"`
	Event            map[string]any `json:"event"`
}
