package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRunner_RunsInOrderResolved(t *testing.T) {
	conn := newFakeConn()
	hooks := []string{
		"insert into jade.person_temp_list@:sourcedb_current (personid) select personid from jade.registrant@:sourcedb",
		"update jade.eventpayflowpro set test = 'Y'",
	}
	params := map[string]string{"sourcedb": "JADE_PROD", "sourcedb_current": "JADE_PROD"}

	err := NewHookRunner(conn, nil).RunAll(context.Background(), HookPhasePre, hooks, 77, params)
	require.NoError(t, err)
	require.Len(t, conn.execs, 2)
	assert.Equal(t,
		"insert into jade.person_temp_list@JADE_PROD (personid) select personid from jade.registrant@JADE_PROD as of scn 77",
		conn.execs[0])
	assert.Equal(t, hooks[1], conn.execs[1])
}

func TestHookRunner_FirstFailureStops(t *testing.T) {
	conn := newFakeConn()
	conn.failOn["jade.badgeprinter"] = errORA
	hooks := []string{
		"delete from jade.personudfvalue",
		"update jade.badgeprinter set eventid = null",
		"update jade.aorn_pluginconfig set aorn_soap_url = null",
	}

	err := NewHookRunner(conn, nil).RunAll(context.Background(), HookPhasePost, hooks, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHookFailed))
	assert.True(t, errors.Is(err, errORA))

	var hookErr *HookError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, HookPhasePost, hookErr.Phase)
	assert.Equal(t, 1, hookErr.Index)
	assert.Equal(t, hooks[1], hookErr.Statement)
	assert.Len(t, conn.execs, 2, "no hook after the failing one runs")
}

func TestHookRunner_Empty(t *testing.T) {
	conn := newFakeConn()
	require.NoError(t, NewHookRunner(conn, nil).RunAll(context.Background(), HookPhasePre, nil, 1, nil))
	assert.Empty(t, conn.execs)
}
