package observability

import (
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func TestMetricsRegisterAndRecord(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("taigad-a", "GET", "/healthz", 200, 12*time.Millisecond)
	RecordSessionStart()
	RecordOp("advance", OpOutcomeOK)
	RecordYearAdvanced()
	RecordSessionEnd()
}
