package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertiser_TXT(t *testing.T) {
	a := NewAdvertiser("kitchen", 8765, "/ws", "v1.0.0")

	txt := a.TXT()
	assert.Contains(t, txt, "service=4a4e0001-6746-4b4e-8164-656e67696e65")
	assert.Contains(t, txt, "path=/ws")
	assert.Contains(t, txt, "weight=4a4e0002-6746-4b4e-8164-656e67696e65")
	assert.Contains(t, txt, "settings=4a4e0006-6746-4b4e-8164-656e67696e65")
	assert.Len(t, txt, 9)
}

func TestAdvertiser_DefaultInstance(t *testing.T) {
	a := NewAdvertiser("", 1, "/", "")
	assert.Contains(t, a.instance, "-scale")
}

func TestPortOf(t *testing.T) {
	p, err := PortOf(":8765")
	require.NoError(t, err)
	assert.Equal(t, 8765, p)

	p, err = PortOf("0.0.0.0:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, p)

	_, err = PortOf("nope")
	assert.Error(t, err)
}
