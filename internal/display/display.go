// Package display publishes what the in-car screen shows. The screen itself
// subscribes to the display topic and draws the gear-shift dots, the
// eco-driving plant and the offline marker.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"eco-drive-assistant/internal/gsi"
	"eco-drive-assistant/internal/performance"
)

// Snapshot is the complete screen state.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Gear-shift indicator: Level dots lit from each end of a row of Total.
	Level          int   `json:"level"`
	Total          int   `json:"total"`
	ShiftUp        bool  `json:"shift_up"`
	ThrottleActive bool  `json:"throttle_active"`
	Indicating     *bool `json:"indicating"`
	Gear           int   `json:"gear"`

	// Rolling eco-driving score and its plant growth stage, absent until
	// the first feedback window is scored.
	EcoDriving *int `json:"eco_driving,omitempty"`
	Tier       *int `json:"tier,omitempty"`

	// Online is false after a failed remote API call.
	Online bool `json:"online"`
}

// NewSnapshot assembles a snapshot.
func NewSnapshot(at time.Time, state gsi.State, score *int, online bool) Snapshot {
	s := Snapshot{
		Timestamp:      at.UTC(),
		Level:          state.Level,
		Total:          state.Total,
		ShiftUp:        state.Total > 0 && state.Level == state.Total/2,
		ThrottleActive: state.ThrottleActive,
		Indicating:     state.Indicating,
		Gear:           state.Gear,
		Online:         online,
	}
	if score != nil {
		v := *score
		tier := performance.Tier(v)
		s.EcoDriving = &v
		s.Tier = &tier
	}
	return s
}

// Dots returns which dots are lit, left to right. Dots light from both
// ends towards the middle.
func (s Snapshot) Dots() []bool {
	dots := make([]bool, s.Total)
	half := s.Total / 2
	for i := 0; i < s.Level && i < half; i++ {
		dots[i] = true
		dots[s.Total-1-i] = true
	}
	return dots
}

// Display receives screen updates.
type Display interface {
	Show(s Snapshot)
}

// LogDisplay writes state changes to the log, for running without a
// screen.
type LogDisplay struct {
	last *Snapshot
}

// Show logs s when the indicator or score changed.
func (d *LogDisplay) Show(s Snapshot) {
	if d.last != nil && sameScreen(*d.last, s) {
		return
	}
	d.last = &s

	score := "-"
	if s.EcoDriving != nil {
		score = fmt.Sprint(*s.EcoDriving)
	}
	log.Printf("Display: gear %d, dots %d/%d, shift up %v, score %s, online %v",
		s.Gear, s.Level, s.Total/2, s.ShiftUp, score, s.Online)
}

func sameScreen(a, b Snapshot) bool {
	return a.Level == b.Level && a.Total == b.Total && a.Gear == b.Gear &&
		a.Online == b.Online && equalIntPtr(a.EcoDriving, b.EcoDriving)
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect opens an MQTT connection
func Connect(config ClientConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(connectHandler)
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Println("MQTT Client: Connected to broker:", config.Broker)
	return client, nil
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Println("MQTT: Connection established")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("MQTT: Connection lost: %v", err)
}

// publishClient is the part of mqtt.Client the publisher uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends snapshots to the display topic. Show never blocks the
// telemetry loop: when the publisher falls behind, the oldest pending
// snapshot is dropped.
type Publisher struct {
	client publishClient
	topic  string
	queue  chan Snapshot
}

// NewPublisher creates a publisher on topic.
func NewPublisher(client publishClient, topic string) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		queue:  make(chan Snapshot, 1),
	}
}

// Show queues s for publishing.
func (p *Publisher) Show(s Snapshot) {
	for {
		select {
		case p.queue <- s:
			return
		default:
		}
		select {
		case <-p.queue:
		default:
		}
	}
}

// Start publishes queued snapshots until ctx is cancelled
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case s := <-p.queue:
			if err := p.Publish(s); err != nil {
				log.Printf("Error publishing display state: %v", err)
			}
		}
	}
}

// Publish sends s immediately. The message is retained so a screen that
// reconnects shows the current state.
func (p *Publisher) Publish(s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal display state: %w", err)
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish display state: %w", token.Error())
	}
	return nil
}
