package grpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConnectionReusesPerTarget(t *testing.T) {
	p := NewPool()
	defer p.Close()

	a1, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	a2, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	b, err := p.GetConnection("localhost:50052")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestGetConnectionReplacesClosed(t *testing.T) {
	p := NewPool()
	defer p.Close()

	first, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
