package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/config"
)

type workerConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	QueueName  string `yaml:"queue_name"`
}

func TestLoad_UnmarshalsYAML(t *testing.T) {
	cfg, err := config.Load[workerConfig]([]byte("max_retries: 3\nqueue_name: orders\n"))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, "orders", cfg.QueueName)
}

const workerSchema = `
type: object
required: [queue_name]
properties:
  max_retries:
    type: integer
    minimum: 0
  queue_name:
    type: string
`

func TestLoadWithSchema_AcceptsValidConfig(t *testing.T) {
	cfg, err := config.LoadWithSchema[workerConfig]([]byte("max_retries: 3\nqueue_name: orders\n"), []byte(workerSchema))
	require.NoError(t, err)
	require.Equal(t, "orders", cfg.QueueName)
}

func TestLoadWithSchema_RejectsMissingRequiredField(t *testing.T) {
	_, err := config.LoadWithSchema[workerConfig]([]byte("max_retries: 3\n"), []byte(workerSchema))
	require.Error(t, err)
}

func TestLoadWithSchema_RejectsWrongType(t *testing.T) {
	_, err := config.LoadWithSchema[workerConfig]([]byte("max_retries: not-a-number\nqueue_name: orders\n"), []byte(workerSchema))
	require.Error(t, err)
}
