package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "visualdiff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "var/visual-diff", cfg.StorageDir)
	assert.Equal(t, 1.0, cfg.Job.Threshold)
	assert.Equal(t, EngineWkhtml, cfg.Renderer.Engine)
	assert.Equal(t, 1920, cfg.Renderer.Width)
	assert.Equal(t, 2*time.Second, cfg.Renderer.JavaScriptDelay)
	assert.Zero(t, cfg.Renderer.Timeout)
	assert.Equal(t, 1, cfg.Concurrency)

	err := cfg.ValidateJob()
	require.Error(t, err, "default job has no URLs")
	assert.Contains(t, err.Error(), "base URL A is required")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
storage_dir: /tmp/vd
concurrency: 4
job:
  base_url_a: https://example.com
  base_url_b: https://staging.example.com
  pages: ["/", "/about"]
  threshold: 0
renderer:
  engine: chromium
  timeout: 30s
  javascript_delay: 500ms
comparator:
  method: pixel
server:
  schedule_interval: 1h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateJob())

	assert.Equal(t, "/tmp/vd", cfg.StorageDir)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, []string{"/", "/about"}, cfg.Job.Pages)
	assert.Zero(t, cfg.Job.Threshold, "explicit zero overrides the default")
	assert.Equal(t, EngineChromium, cfg.Renderer.Engine)
	assert.Equal(t, 30*time.Second, cfg.Renderer.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Renderer.JavaScriptDelay)
	assert.Equal(t, 1080, cfg.Renderer.Height, "unset fields keep defaults")
	assert.Equal(t, "pixel", cfg.Comparator.Method)
	assert.Equal(t, time.Hour, cfg.Server.ScheduleInterval)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().StorageDir, cfg.StorageDir)
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "treshold: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treshold")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VISUALDIFF_BASE_URL_A":         "https://prod.test",
		"VISUALDIFF_BASE_URL_B":         "https://stage.test",
		"VISUALDIFF_PAGES":              "/, /about ,,/contact",
		"VISUALDIFF_THRESHOLD":          "2.5",
		"VISUALDIFF_CONCURRENCY":        "3",
		"VISUALDIFF_RENDER_TIMEOUT":     "45s",
		"VISUALDIFF_COMPARE_METHOD":     "mse",
		"VISUALDIFF_WEBHOOK_URL":        "https://hooks.test/x",
		"VISUALDIFF_REDIS_DB":           "2",
		"VISUALDIFF_DISABLE_JAVASCRIPT": "true",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(mapLookup(env)))

	assert.Equal(t, "https://prod.test", cfg.Job.BaseURLA)
	assert.Equal(t, []string{"/", "/about", "/contact"}, cfg.Job.Pages)
	assert.Equal(t, 2.5, cfg.Job.Threshold)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Renderer.Timeout)
	assert.Equal(t, "mse", cfg.Comparator.Method)
	assert.Equal(t, "https://hooks.test/x", cfg.Notify.WebhookURL)
	assert.Equal(t, 2, cfg.Notify.RedisDB)
	assert.True(t, cfg.Renderer.DisableJavaScript)
	assert.True(t, cfg.RenderOptions().JavaScriptDisabled())
	require.NoError(t, cfg.ValidateJob())
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"VISUALDIFF_THRESHOLD":   "abc",
		"VISUALDIFF_CONCURRENCY": "many",
		"VISUALDIFF_SCHEDULE":    "daily",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VISUALDIFF_THRESHOLD")
	assert.Contains(t, err.Error(), "VISUALDIFF_CONCURRENCY")
	assert.Contains(t, err.Error(), "VISUALDIFF_SCHEDULE")
	assert.Equal(t, 1.0, cfg.Job.Threshold, "bad values leave the field untouched")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	cfg.Renderer.Engine = "phantomjs"
	cfg.Comparator.Method = "ssim"
	cfg.Job.Threshold = 101

	err := cfg.ValidateJob()
	require.Error(t, err)
	for _, want := range []string{
		"concurrency must be at least 1",
		`unknown renderer engine "phantomjs"`,
		`unknown comparator method "ssim"`,
		"threshold must be a number between 0 and 100",
		"at least one page is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSplitPages(t *testing.T) {
	assert.Equal(t, []string{"/", "/a", "/b"}, SplitPages("/,/a\n/b"))
	assert.Empty(t, SplitPages(" , ,"))
}

func TestJobSpecCopiesPages(t *testing.T) {
	cfg := Default()
	cfg.Job.Pages = []string{"/"}
	s := cfg.JobSpec()
	s.Pages[0] = "/changed"
	assert.Equal(t, "/", cfg.Job.Pages[0])
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}
