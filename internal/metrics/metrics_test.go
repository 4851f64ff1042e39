package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	assert.NotNil(t, c)
	assert.NotNil(t, c.Handler())
}

func TestRecordSubmittedAndDispatched(t *testing.T) {
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.RecordSubmitted()
		c.RecordDispatched()
	})
}

func TestRecordTerminalOutcomes(t *testing.T) {
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.RecordCompleted(0.01)
		c.RecordCancelled(0.02)
		c.RecordFailed(0.03)
	})
}

func TestRecordHandshake(t *testing.T) {
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.RecordHandshake(1.5)
	})
}

func TestGaugeSetters(t *testing.T) {
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.SetActiveWorkers(4)
		c.SetSubmissionDepth(12)
		c.SetActiveWorkers(0)
	})
}

func TestTwoCollectorsAreIndependentlyRegistered(t *testing.T) {
	// Unlike a Collector built against the global registry, two Collectors
	// each carrying their own prometheus.Registry never collide.
	first := NewCollector()
	second := NewCollector()
	assert.NotPanics(t, func() {
		first.RecordSubmitted()
		second.RecordSubmitted()
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	c := NewCollector()
	done := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		go func() {
			c.RecordSubmitted()
			c.RecordDispatched()
			c.RecordCompleted(0.1)
			c.SetActiveWorkers(2)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}
