package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/soyeahso/daogate/internal/agent"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriteria(t *testing.T) {
	crit, err := parseCriteria([]string{"Builder: ships code", " Values :aligned with the DAO"})
	require.NoError(t, err)
	require.Len(t, crit, 2)
	assert.Equal(t, "Builder", crit[0].Title)
	assert.Equal(t, "ships code", crit[0].Description)
	assert.Equal(t, "Values", crit[1].Title)
	assert.Equal(t, domain.IconGeneric, crit[1].Icon)

	_, err = parseCriteria([]string{"no separator"})
	assert.Error(t, err)
	_, err = parseCriteria([]string{": empty title"})
	assert.Error(t, err)
}

func TestChatSession_Connect(t *testing.T) {
	var out bytes.Buffer
	c := &chatSession{out: &out}

	require.NoError(t, c.connect([]string{"github", "octocat"}))
	require.NotNil(t, c.pending)
	assert.Equal(t, domain.AccountGitHub, c.pending.Kind)
	assert.Equal(t, "octocat", c.pending.Credential)
	assert.True(t, c.pending.Connected)

	assert.Error(t, c.connect(nil))
	assert.Error(t, c.connect([]string{"myspace"}))
}

func TestChatSession_RunQuit(t *testing.T) {
	var out bytes.Buffer
	c := &chatSession{
		svc: &agent.Service{},
		in:  strings.NewReader("\n/connect wallet\n/quit\nnever sent\n"),
		out: &out,
	}

	require.NoError(t, c.run(context.Background()))
	assert.Contains(t, out.String(), "connection will be sent")
	assert.NotNil(t, c.pending)
}
