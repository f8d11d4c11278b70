package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
)

func TestNew_DisabledWithoutURL(t *testing.T) {
	repo, err := New(&config.Config{}, zap.NewNop())
	require.NoError(t, err)

	_, isNoop := repo.(Noop)
	assert.True(t, isNoop)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&config.Config{DatabaseURL: "postgres://%zz"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNoop_SaveReturnsRecord(t *testing.T) {
	payload := json.RawMessage(`{"image":"a.png","annotations":[]}`)

	record, err := Noop{}.Save(context.Background(), payload)
	require.NoError(t, err)

	_, parseErr := uuid.Parse(record.ID)
	assert.NoError(t, parseErr)
	assert.JSONEq(t, string(payload), string(record.Payload))

	found, err := Noop{}.GetByID(context.Background(), record.ID)
	assert.NoError(t, err)
	assert.Nil(t, found)
}
