package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/parking-monitor/internal/dashboard"
	"github.com/afroash/parking-monitor/internal/models"
	"github.com/afroash/parking-monitor/internal/poller"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; the embedded interface panics on anything else
type fakeClient struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []published
	fail map[string]error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.fail[topic]}
}

var registry = models.Registry{
	{ID: "A39VSFY0", Name: "PARKING1"},
	{ID: "GCX24L9C", Name: "PARKING2"},
}

var t0 = time.Date(2025, 11, 30, 15, 0, 0, 0, time.UTC)

func TestBuildMessages(t *testing.T) {
	table := models.ReadingTable{
		models.NewReading("GCX24L9C", 2, t0),
		models.NewReading("A39VSFY0", 5, t0),
		models.NewReading("A39VSFY0", 0, t0.Add(time.Minute)),
		models.NewReading("ZZZ", 7, t0),
		models.NewReading("GCX24L9C", 9, t0), // same timestamp, seen last
	}

	msgs := BuildMessages(table, registry)

	want := []SpotMessage{
		{SensorID: "A39VSFY0", Name: "PARKING1", Spots: 0, Tier: dashboard.TierFull, Timestamp: t0.Add(time.Minute)},
		{SensorID: "GCX24L9C", Name: "PARKING2", Spots: 9, Tier: dashboard.TierOK, Timestamp: t0},
		{SensorID: "ZZZ", Name: "ZZZ", Spots: 7, Tier: dashboard.TierOK, Timestamp: t0},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestBuildMessages_AgreesWithLatest(t *testing.T) {
	table := models.ReadingTable{
		models.NewReading("A39VSFY0", 1, t0.Add(time.Minute)),
		models.NewReading("A39VSFY0", 6, t0.Add(time.Minute)),
		models.NewReading("A39VSFY0", 3, t0),
	}

	latest := models.Latest(table)
	for _, m := range BuildMessages(table, registry) {
		if m.Spots != latest[m.SensorID] {
			t.Errorf("%s spots = %d, Latest = %d", m.SensorID, m.Spots, latest[m.SensorID])
		}
		if !m.Timestamp.Equal(t0.Add(time.Minute)) {
			t.Errorf("%s timestamp = %v", m.SensorID, m.Timestamp)
		}
	}
}

func TestBuildMessages_Empty(t *testing.T) {
	if msgs := BuildMessages(nil, registry); len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Config{TopicPrefix: "lot/spots/", QoS: 1, Retained: true}, registry, zerolog.Nop())

	sent, err := p.Publish(models.ReadingTable{models.NewReading("A39VSFY0", 3, t0)})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if sent != 1 || len(client.msgs) != 1 {
		t.Fatalf("sent = %d, recorded = %d", sent, len(client.msgs))
	}

	msg := client.msgs[0]
	if msg.topic != "lot/spots/A39VSFY0" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos = %d retained = %v", msg.qos, msg.retained)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if body["name"] != "PARKING1" || body["tier"] != "low" || body["spots"] != float64(3) {
		t.Errorf("payload = %v", body)
	}
}

func TestPublisher_PartialFailure(t *testing.T) {
	client := &fakeClient{fail: map[string]error{"parking/spots/GCX24L9C": errors.New("not connected")}}
	p := NewPublisher(client, Config{}, registry, zerolog.Nop())

	sent, err := p.Publish(models.ReadingTable{
		models.NewReading("A39VSFY0", 3, t0),
		models.NewReading("GCX24L9C", 1, t0),
	})
	if err == nil {
		t.Error("expected error")
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
}

func TestPublisher_OnUpdateSkipsFailures(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Config{}, registry, zerolog.Nop())

	p.OnUpdate(poller.Update{Err: errors.New("fetch failed")})
	if len(client.msgs) != 0 {
		t.Errorf("published %d messages after failed refresh", len(client.msgs))
	}

	p.OnUpdate(poller.Update{Snapshot: poller.Snapshot{Readings: models.ReadingTable{models.NewReading("A39VSFY0", 3, t0)}}})
	if len(client.msgs) != 1 {
		t.Errorf("published %d messages, want 1", len(client.msgs))
	}
}

func TestConnect_RequiresBroker(t *testing.T) {
	if _, err := Connect(Config{}, registry, zerolog.Nop()); err == nil {
		t.Error("expected error without broker")
	}
}
