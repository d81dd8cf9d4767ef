package oracle

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/eventimport/internal/config"
	"github.com/willibrandon/eventimport/internal/importer"
)

func TestBuildDSN(t *testing.T) {
	cfg := config.TargetConfig{
		Host:           "oradb.example.com",
		Port:           1522,
		Service:        "JADEDEV",
		User:           "jadebackup",
		ConnectTimeout: 15 * time.Second,
	}

	u, err := url.Parse(BuildDSN(cfg, "s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "oracle", u.Scheme)
	assert.Equal(t, "oradb.example.com:1522", u.Host)
	assert.Equal(t, "/JADEDEV", u.Path)
	assert.Equal(t, "jadebackup", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "s3cret", pw)

	found := false
	for k, v := range u.Query() {
		if strings.EqualFold(k, "TIMEOUT") {
			found = true
			assert.Equal(t, []string{"15"}, v)
		}
	}
	assert.True(t, found, "connect timeout is passed as an option")
}

func TestBuildDSN_DefaultPortAndExplicitOptions(t *testing.T) {
	cfg := config.TargetConfig{
		Host:           "db",
		Service:        "FREEPDB1",
		User:           "u",
		ConnectTimeout: time.Second,
		Options:        map[string]string{"TIMEOUT": "99"},
	}
	u, err := url.Parse(BuildDSN(cfg, "x"))
	require.NoError(t, err)
	assert.Equal(t, "db:1521", u.Host)
	for k, v := range u.Query() {
		if strings.EqualFold(k, "TIMEOUT") {
			assert.Equal(t, []string{"99"}, v, "configured options win")
		}
	}
}

func TestGetPassword_Command(t *testing.T) {
	password, err := GetPassword("echo s3cret")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", password)
}

func TestGetPassword_CommandFailure(t *testing.T) {
	_, err := GetPassword("false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password command failed")
}

func TestGetPassword_Env(t *testing.T) {
	t.Setenv(PasswordEnv, "fromenv")
	password, err := GetPassword("")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", password)
}

func TestGetPassword_Prompt(t *testing.T) {
	unsetEnv(t, PasswordEnv)

	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func() (string, error) { return "typed", nil }

	password, err := GetPassword("")
	require.NoError(t, err)
	assert.Equal(t, "typed", password)

	readPassword = func() (string, error) { return "", errors.New("not a terminal") }
	_, err = GetPassword("")
	assert.ErrorContains(t, err, "interactive password prompt failed")
}

// unsetEnv removes key for the rest of the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestKillStatement(t *testing.T) {
	assert.Equal(t, "alter system kill session '42,1234' immediate", KillStatement("42", "1234"))
}

func TestKillSessions_SkipsOwnSession(t *testing.T) {
	conn := &stubConn{
		rows: [][]string{{"10", "100"}, {"11", "200"}, {"12", "300"}},
		failOn: map[string]error{
			"'12,300'": errors.New("ORA-00031: session marked for kill"),
		},
	}

	killed, err := KillSessions(context.Background(), conn, "jade", "11")
	require.NoError(t, err)
	assert.Equal(t, []any{"JADE"}, conn.args)

	require.Len(t, killed, 2)
	assert.Equal(t, "10", killed[0].SID)
	assert.NoError(t, killed[0].Err)
	assert.Equal(t, "12", killed[1].SID)
	assert.Error(t, killed[1].Err)

	assert.Equal(t, []string{
		"alter system kill session '10,100' immediate",
		"alter system kill session '12,300' immediate",
	}, conn.execs)
}

func TestKillSessions_QueryFailure(t *testing.T) {
	conn := &stubConn{queryErr: errors.New("ORA-00942: table or view does not exist")}
	_, err := KillSessions(context.Background(), conn, "JADE", "1")
	assert.ErrorContains(t, err, "list sessions for JADE")
	assert.Empty(t, conn.execs)
}

// stubConn is a minimal importer.Conn over string rows.
type stubConn struct {
	rows     [][]string
	queryErr error
	failOn   map[string]error
	args     []any
	execs    []string
}

func (c *stubConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	c.execs = append(c.execs, query)
	for sub, err := range c.failOn {
		if strings.Contains(query, sub) {
			return 0, err
		}
	}
	return 0, nil
}

func (c *stubConn) Query(ctx context.Context, query string, args ...any) (importer.Rows, error) {
	c.args = args
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &stubRows{data: c.rows}, nil
}

type stubRows struct {
	data [][]string
	pos  int
}

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	for i, d := range dest {
		*(d.(*string)) = r.data[r.pos-1][i]
	}
	return nil
}

func (r *stubRows) Err() error   { return nil }
func (r *stubRows) Close() error { return nil }
