package timingutils

import (
	"testing"

	"gitee.com/czyczk/pdproxy/internal/global"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestGetDeferrableTimingLogger(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	oldLevel := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(oldLevel)
	defer func(old bool) { global.ShowTimingLogs = old }(global.ShowTimingLogs)

	global.ShowTimingLogs = false
	GetDeferrableTimingLogger("disabled")()
	assert.Empty(t, hook.AllEntries())

	global.ShowTimingLogs = true
	GetDeferrableTimingLogger("redeem")()
	if assert.Len(t, hook.AllEntries(), 1) {
		assert.Equal(t, log.DebugLevel, hook.LastEntry().Level)
		assert.Contains(t, hook.LastEntry().Message, "redeem: ")
	}
}
