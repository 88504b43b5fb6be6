package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMustRegister_Idempotent(t *testing.T) {
	require.NotPanics(t, MustRegister)
	require.NotPanics(t, MustRegister)
}

func TestAuthOutcomes(t *testing.T) {
	before := testutil.ToFloat64(AuthOutcomes.WithLabelValues("login_local", "ok"))
	AuthOutcomes.WithLabelValues("login_local", "ok").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(AuthOutcomes.WithLabelValues("login_local", "ok")))
}
