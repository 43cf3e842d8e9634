package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_Fits(t *testing.T) {
	assert.True(t, HTTPCapabilities.Fits(10<<20))
	assert.True(t, AWSCapabilities.Fits(256<<10))
	assert.False(t, AWSCapabilities.Fits(256<<10+1))
	assert.False(t, KafkaCapabilities.Fits(2<<20))
}

func TestPredefinedCapabilities(t *testing.T) {
	all := []Capabilities{
		ChannelCapabilities,
		KafkaCapabilities,
		RabbitMQCapabilities,
		NATSCapabilities,
		NATSJetStreamCapabilities,
		AWSCapabilities,
		HTTPCapabilities,
	}
	seen := make(map[string]bool)
	for _, c := range all {
		assert.NotEmpty(t, c.Name)
		assert.False(t, seen[c.Name], "duplicate capability name %q", c.Name)
		seen[c.Name] = true
	}
	assert.True(t, ChannelCapabilities.SupportsOrdering)
	assert.False(t, HTTPCapabilities.SupportsOrdering)
}
