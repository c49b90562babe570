package pipeline

import "github.com/sipeed/picoclaw-orchestrator/pkg/intents"

func metricIntent(name string, value float64, labels map[string]string) intents.Intent {
	return intents.RecordMetric{Name: name, Value: value, Labels: labels}
}
