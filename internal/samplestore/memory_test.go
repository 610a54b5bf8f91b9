package samplestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
)

func TestMemorySourceFetch(t *testing.T) {
	src := NewMemory()
	src.Put(domain.SampleID("s1"), []byte("audio-bytes"))

	data, err := src.Fetch(context.Background(), domain.SampleID("s1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)

	// Returned slice is a copy; mutating it must not corrupt the store.
	data[0] = 'X'
	again, err := src.Fetch(context.Background(), domain.SampleID("s1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), again)
}

func TestMemorySourceMissing(t *testing.T) {
	src := NewMemory()

	_, err := src.Fetch(context.Background(), domain.SampleID("missing"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = src.Fetch(context.Background(), domain.SampleID(""))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
