package logger_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authsession/internal/logger"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	level, l := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = l
	})
}

func TestInit_Validation(t *testing.T) {
	restoreGlobals(t)

	err := logger.Init(logger.Log{LogLevel: "loud", ServiceName: "test"})
	assert.ErrorContains(t, err, "loglevel loud is not supported")

	err = logger.Init(logger.Log{LogLevel: "info"})
	assert.ErrorIs(t, err, logger.ErrServiceNameIsEmpty)

	// no writers enabled
	require.NoError(t, logger.Init(logger.Log{LogLevel: "info", ServiceName: "test"}))
	log.Info().Msg("discarded")
}

func TestInit_RollingFiles(t *testing.T) {
	restoreGlobals(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, logger.Init(logger.Log{
		LogLevel:    "debug",
		ServiceName: "authsession",
		File:        logger.LogFile{Enabled: true, Path: dir, MaxSize: 1},
	}))

	log.Info().Str("component", "test").Msg("info message")
	log.Warn().Msg("warn message")
	log.Trace().Msg("trace message")

	info, err := os.ReadFile(filepath.Join(dir, "authsession.log"))
	require.NoError(t, err)
	errs, err := os.ReadFile(filepath.Join(dir, "authsession.error.log"))
	require.NoError(t, err)

	assert.Contains(t, string(info), `"message":"info message"`)
	assert.Contains(t, string(info), `"component":"test"`)
	assert.NotContains(t, string(info), "warn message")
	assert.Contains(t, string(errs), "warn message")
	assert.False(t, strings.Contains(string(info)+string(errs), "trace message"), "below the configured level")
}

func TestLevelWriter(t *testing.T) {
	var info, errs strings.Builder
	lw := &logger.LevelWriter{InfoWriter: &info, ErrorWriter: &errs}

	tests := []struct {
		level zerolog.Level
		want  *strings.Builder
	}{
		{zerolog.TraceLevel, &info},
		{zerolog.DebugLevel, &info},
		{zerolog.InfoLevel, &info},
		{zerolog.WarnLevel, &errs},
		{zerolog.ErrorLevel, &errs},
		{zerolog.NoLevel, &info},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			before := tt.want.Len()
			_, err := lw.WriteLevel(tt.level, []byte("x"))
			require.NoError(t, err)
			assert.Equal(t, before+1, tt.want.Len())
		})
	}

	n, err := lw.WriteLevel(zerolog.Disabled, []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPrometheusHook(t *testing.T) {
	restoreGlobals(t)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	reg := prometheus.NewRegistry()

	first, err := logger.NewPrometheusHook(reg, "svc")
	require.NoError(t, err)
	second, err := logger.NewPrometheusHook(reg, "svc")
	require.NoError(t, err, "a second hook shares the registered counter")

	l1 := zerolog.New(io.Discard).Hook(first)
	l2 := zerolog.New(io.Discard).Hook(second)
	l1.Warn().Msg("one")
	l2.Warn().Msg("two")
	l1.Debug().Msg("three")
	l1.Log().Msg("no level")

	expected := `
# HELP authsession_log_statements_total Log statements by level.
# TYPE authsession_log_statements_total counter
authsession_log_statements_total{level="debug",service="svc"} 1
authsession_log_statements_total{level="warn",service="svc"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), logger.LogStatementsMetric))
}

func TestPrometheusHook_ConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        logger.LogStatementsMetric,
		Help:        "Log statements by level.",
		ConstLabels: prometheus.Labels{"service": "svc"},
	}))

	_, err := logger.NewPrometheusHook(reg, "svc")
	assert.Error(t, err)
}
