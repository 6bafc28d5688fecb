package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "abc", TruncateForLog("abc", 10))
	assert.Equal(t, "abcde...", TruncateForLog("abcdefghij", 5))
	assert.Equal(t, "", TruncateForLog("abc", 0))
	assert.Equal(t, "abc", TruncateForLog("  abc  ", 10), "surrounding whitespace is trimmed")
}

func TestNewLoggerBuilds(t *testing.T) {
	for _, json := range []bool{false, true} {
		logger, err := NewLogger(json, true)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}

func TestCollectorHandlerServesMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordAssessCall("stage1", "passed", 0.002)
	c.RecordAssessRetry()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordPairProcessed("stage1")
	c.SetActiveSessions(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "matcher_assess_calls_total")
	assert.Contains(t, body, "matcher_distance_cache_hits_total")
	assert.Contains(t, body, "matcher_sessions_active 2")
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Two collectors must not clash on registration.
	a := NewCollector()
	b := NewCollector()
	a.RecordCacheHit()
	b.RecordCacheMiss()
}
