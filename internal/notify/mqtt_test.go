package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/prohosp/flow-monitor/internal/config"
	"github.com/prohosp/flow-monitor/internal/engine"
	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/store"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.topic)
	}
	return out
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{Topic: "flow/summary", AlertTopic: "flow/alerts", QoS: 1}
}

func snapshotWithRisk(risk int, errMsg string) engine.Snapshot {
	confidence := 88.0
	synced := time.Date(2024, 4, 18, 10, 30, 0, 0, time.UTC)
	summary := models.Summary{LastOutput: &models.Output{NivelRiesgo: &risk, ConfianzaModelo: &confidence}}
	return engine.Snapshot{
		State:  store.State{Summary: summary, Error: errMsg, SyncedAt: &synced},
		Series: []models.HistorySample{{Label: "10:30:00", Confidence: confidence}},
		Phase:  "polling",
	}
}

func TestPublishSnapshotAndRiskTransitions(t *testing.T) {
	client := &fakeClient{}
	advisories, _ := engine.NewAdvisoryEngine("", nil)
	p := NewPublisher(client, testConfig(), advisories, nil)

	steps := []engine.Snapshot{
		snapshotWithRisk(1, ""),
		snapshotWithRisk(1, ""),
		snapshotWithRisk(1, "timeout"),
		snapshotWithRisk(0, ""),
	}
	for i, s := range steps {
		if err := p.publishSnapshot(s); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := []string{"flow/summary", "flow/alerts", "flow/summary", "flow/summary", "flow/summary", "flow/alerts"}
	got := client.topics()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	var snapshot SnapshotMessage
	if err := json.Unmarshal(client.messages[0].payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !client.messages[0].retained || snapshot.Derived.Risk.Label != "ALTO" || snapshot.SyncedAt == nil {
		t.Fatalf("unexpected snapshot message: %+v", snapshot)
	}
	if len(snapshot.Advisories) == 0 || snapshot.Advisories[0].ID != "bed-block-risk" {
		t.Fatalf("expected bed-block advisory, got %+v", snapshot.Advisories)
	}

	var alert AlertMessage
	if err := json.Unmarshal(client.messages[5].payload, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Risk != "BAJO" || alert.Status != "ok" || client.messages[5].retained {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestPublishErrorIsReturned(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(client, testConfig(), nil, nil)
	if err := p.publishSnapshot(snapshotWithRisk(0, "")); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestStartDrainsObservedSnapshots(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	p.Observe(snapshotWithRisk(0, ""))
	deadline := time.Now().Add(2 * time.Second)
	for len(client.topics()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot was not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestObserveDropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(&fakeClient{}, testConfig(), nil, nil)
	for i := 0; i < queueSize+5; i++ {
		p.Observe(snapshotWithRisk(0, ""))
	}
	if len(p.snapshots) != queueSize {
		t.Fatalf("expected queue to stay bounded at %d, got %d", queueSize, len(p.snapshots))
	}
}
