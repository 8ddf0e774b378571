package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseVars() map[string]string {
	return map[string]string{
		"MONGO_URI":  "mongodb://localhost:27017/test_db",
		"SECRET_KEY": "test-secret-key",
	}
}

func TestLoadConfigFrom_Defaults(t *testing.T) {
	cfg, err := LoadConfigFrom(baseVars())
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017/test_db", cfg.MongoURI)
	assert.Equal(t, "test-secret-key", cfg.SecretKey)
	assert.Equal(t, "students_db", cfg.DatabaseName)
	assert.Equal(t, "students", cfg.CollectionName)
	assert.Equal(t, StorageDriverMongo, cfg.StorageDriver)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
	assert.Equal(t, "localhost:3000", cfg.Addr())
	assert.False(t, cfg.Testing)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, 2*time.Second, cfg.RedisPublishTimeout)
}

func TestLoadConfigFrom_MissingRequired(t *testing.T) {
	for _, key := range []string{"MONGO_URI", "SECRET_KEY"} {
		t.Run(key, func(t *testing.T) {
			vars := baseVars()
			delete(vars, key)

			cfg, err := LoadConfigFrom(vars)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadConfigFrom_BlankRequiredRejected(t *testing.T) {
	vars := baseVars()
	vars["SECRET_KEY"] = "   "

	_, err := LoadConfigFrom(vars)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	vars := baseVars()
	vars["STORAGE_DRIVER"] = "Memory"
	vars["TESTING"] = "true"
	vars["REDIS_ADDR"] = "localhost:6379"
	vars["QUERY_TIMEOUT"] = "250ms"
	vars["SERVER_PORT"] = "8081"

	cfg, err := LoadConfigFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.True(t, cfg.Testing)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 250*time.Millisecond, cfg.QueryTimeout)
	assert.Equal(t, "localhost:8081", cfg.Addr())
}

func TestLoadConfigFrom_InvalidDriver(t *testing.T) {
	vars := baseVars()
	vars["STORAGE_DRIVER"] = "sqlite"

	_, err := LoadConfigFrom(vars)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "sqlite")
}

func TestLoadConfigFrom_InvalidDuration(t *testing.T) {
	vars := baseVars()
	vars["QUERY_TIMEOUT"] = "soon"

	_, err := LoadConfigFrom(vars)
	assert.Error(t, err)
}

func TestValidate_NonPositiveTimeout(t *testing.T) {
	cfg, err := LoadConfigFrom(baseVars())
	require.NoError(t, err)

	cfg.QueryTimeout = 0
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}
