package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordAndServe(t *testing.T) {
	req := require.New(t)
	m := New()

	m.MessagesDelivered.WithLabelValues("choir").Inc()
	m.MessagesDelivered.WithLabelValues("choir").Inc()
	m.SessionsOpen.Set(3)

	req.Equal(2.0, testutil.ToFloat64(m.MessagesDelivered.WithLabelValues("choir")))
	req.Equal(3.0, testutil.ToFloat64(m.SessionsOpen))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	req.Equal(200, rec.Code)
	req.True(strings.Contains(rec.Body.String(), "familychat_messages_delivered_total"))
}
