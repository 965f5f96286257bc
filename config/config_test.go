package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phishguard/ml"
	"phishguard/schema"
)

const sample = `
http:
  port: 9000
  timeout: 10s
models:
  web_out:
    path: models/rf_model_webOut01.json
  web_in:
    type: onnx
    path: models/rf_model_webIn01.onnx
    classes: [0, 1]
  onnx_library: /usr/lib/libonnxruntime.so
cache:
  size: 128
database:
  path: predictions.db
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	req := require.New(t)

	config, err := Load(writeConfig(t, sample))
	req.NoError(err)

	req.Equal(9000, config.Http.Port)
	req.Equal(10*time.Second, config.Http.Timeout)
	req.Equal(int64(64<<10), config.Http.MaxBodyBytes)
	req.Equal([]string{"*"}, config.Http.AllowedOrigins)
	req.Equal(ml.ModelTypeForest, config.Models.WebOut.Type)
	req.Equal(ml.ModelTypeOnnx, config.Models.WebIn.Type)
	req.Equal(128, config.Cache.Size)
	req.Equal("predictions.db", config.Database.Path)
	req.Equal("debug", config.Log.Level)
	req.Equal(100, config.Log.MaxSizeMB)

	specs := config.ModelSpecs()
	req.Equal("models/rf_model_webOut01.json", specs[schema.WebOut].Path)
	req.Equal([]int{0, 1}, specs[schema.WebIn].Classes)
	req.Equal("/usr/lib/libonnxruntime.so", specs[schema.WebIn].RuntimeLibrary)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("PHISHGUARD_HTTP_PORT", "8123")
	t.Setenv("PHISHGUARD_MODELS_WEB_OUT_PATH", "/srv/models/out.json")
	t.Setenv("PHISHGUARD_CACHE_SIZE", "0")
	t.Setenv("PHISHGUARD_HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	config, err := Load(writeConfig(t, sample))
	req.NoError(err)

	req.Equal(8123, config.Http.Port)
	req.Equal("/srv/models/out.json", config.Models.WebOut.Path)
	req.Equal(0, config.Cache.Size)
	req.Equal([]string{"https://a.example", "https://b.example"}, config.Http.AllowedOrigins)
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("PHISHGUARD_MODELS_WEB_OUT_PATH", "out.json")
	t.Setenv("PHISHGUARD_MODELS_WEB_IN_PATH", "in.json")

	config, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, config.Http.Port)
	require.Equal(t, "in.json", config.Models.WebIn.Path)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing model path": "models:\n  web_out:\n    path: a.json\n",
		"unknown model type": "models:\n  web_out:\n    path: a.json\n    type: pickle\n  web_in:\n    path: b.json\n",
		"bad log level":      "models:\n  web_out:\n    path: a.json\n  web_in:\n    path: b.json\nlog:\n  level: loud\n",
		"port out of range":  "http:\n  port: 70000\nmodels:\n  web_out:\n    path: a.json\n  web_in:\n    path: b.json\n",
		"not yaml":           "http: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
