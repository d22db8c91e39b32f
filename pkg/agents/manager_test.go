// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo answers with the last user message, prefixed.
func echo(prefix string) llm.Factory {
	return func() llm.Collaborator {
		return llm.FuncCollaborator(func(_ context.Context, msgs []llm.Message, _ []llm.Tool) llm.Result {
			return llm.Result{Content: prefix + msgs[len(msgs)-1].Content}
		})
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var idPattern = regexp.MustCompile(`^agent_[0-9a-f]{8}$`)

func TestSpawnAndDelegate(t *testing.T) {
	m := NewManager()
	id, err := m.Spawn(context.Background(), "security", echo("sec: "))
	require.NoError(t, err)
	assert.Regexp(t, idPattern, id)

	answer, err := m.Delegate(context.Background(), id, "audit login.go")
	require.NoError(t, err)
	assert.Equal(t, "sec: audit login.go", answer)

	log, err := m.Transcript(id)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, llm.RoleSystem, log[0].Role)
	assert.Contains(t, log[0].Content, "OWASP")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "audit login.go"}, log[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "sec: audit login.go"}, log[2])
}

func TestSpawnRoleInstructions(t *testing.T) {
	m := NewManager(WithRoles(map[string]string{"Reviewer": "You review pull requests."}))
	tests := []struct {
		role string
		want string
	}{
		{"tester", BuiltinRoles["tester"]},
		{"DATABASE", BuiltinRoles["database"]},
		{"reviewer", "You review pull requests."},
		{"devops", "You are a specialist in devops."},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			id, err := m.Spawn(context.Background(), tc.role, echo(""))
			require.NoError(t, err)
			log, err := m.Transcript(id)
			require.NoError(t, err)
			assert.Equal(t, tc.want, log[0].Content)
		})
	}
}

func TestRolesNames(t *testing.T) {
	roles := NewRoles(map[string]string{"Reviewer": "You review pull requests.", "empty": " "})
	assert.Equal(t, []string{"database", "frontend", "reviewer", "security", "tester"}, roles.Names())
	assert.True(t, roles.Known("REVIEWER"))
	assert.False(t, roles.Known("empty"))
}

func TestSpawnValidation(t *testing.T) {
	m := NewManager()
	_, err := m.Spawn(context.Background(), "tester", nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = m.Spawn(context.Background(), "tester", func() llm.Collaborator { return nil })
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = m.Spawn(context.Background(), "  ", echo(""))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
	assert.Zero(t, m.Len())
}

func TestDelegateUnknownAgent(t *testing.T) {
	m := NewManager()
	_, err := m.Delegate(context.Background(), "agent_deadbeef", "hi")
	assert.True(t, errors.HasCode(err, errors.CodeAgentNotFound))
	_, err = m.Transcript("agent_deadbeef")
	assert.True(t, errors.HasCode(err, errors.CodeAgentNotFound))
}

func TestDelegateEmptyAnswer(t *testing.T) {
	m := NewManager()
	id, err := m.Spawn(context.Background(), "frontend", func() llm.Collaborator {
		return llm.FuncCollaborator(func(context.Context, []llm.Message, []llm.Tool) llm.Result {
			return llm.Result{}
		})
	})
	require.NoError(t, err)

	answer, err := m.Delegate(context.Background(), id, "style the page")
	require.NoError(t, err)
	assert.Equal(t, NoContent, answer)

	log, _ := m.Transcript(id)
	assert.Len(t, log, 2, "empty answers are not logged")
}

func TestDelegateProviderErrorBecomesContent(t *testing.T) {
	m := NewManager()
	factory := func() llm.Collaborator {
		return llm.NewCollaborator(&llm.MockProvider{Err: fmt.Errorf("quota exceeded")})
	}
	id, err := m.Spawn(context.Background(), "tester", factory)
	require.NoError(t, err)
	answer, err := m.Delegate(context.Background(), id, "write tests")
	require.NoError(t, err)
	assert.Contains(t, answer, llm.ErrorPrefix)
	assert.Contains(t, answer, "quota exceeded")
}

func TestDelegateSendsFullLogAndTools(t *testing.T) {
	provider := llm.NewScriptedMockProvider("first", "second")
	tools := []llm.Tool{llm.ToolDeclaration("read_file", "Read a file", nil)}
	m := NewManager(WithTools(func() []llm.Tool { return tools }))
	id, err := m.Spawn(context.Background(), "database", func() llm.Collaborator { return llm.NewCollaborator(provider) })
	require.NoError(t, err)

	_, err = m.Delegate(context.Background(), id, "one")
	require.NoError(t, err)
	answer, err := m.Delegate(context.Background(), id, "two")
	require.NoError(t, err)
	assert.Equal(t, "second", answer)

	req, ok := provider.LastRequest()
	require.True(t, ok)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "one", req.Messages[1].Content)
	assert.Equal(t, "first", req.Messages[2].Content)
	assert.Equal(t, "two", req.Messages[3].Content)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "read_file", req.Tools[0].Function.Name)
}

func TestAgentsAreIsolated(t *testing.T) {
	m := NewManager()
	a, err := m.Spawn(context.Background(), "security", echo("a: "))
	require.NoError(t, err)
	b, err := m.Spawn(context.Background(), "security", echo("b: "))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = m.Delegate(context.Background(), a, "secret")
	require.NoError(t, err)
	logB, err := m.Transcript(b)
	require.NoError(t, err)
	assert.Len(t, logB, 1)
}

func TestDelegateSerializesPerAgent(t *testing.T) {
	var inFlight, peak atomic.Int32
	factory := func() llm.Collaborator {
		return llm.FuncCollaborator(func(context.Context, []llm.Message, []llm.Tool) llm.Result {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return llm.Result{Content: "ok"}
		})
	}
	m := NewManager()
	id, err := m.Spawn(context.Background(), "tester", factory)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Delegate(context.Background(), id, fmt.Sprintf("task %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())

	log, _ := m.Transcript(id)
	assert.Len(t, log, 21)
}

func TestDelegateDifferentAgentsInParallel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	factory := func() llm.Collaborator {
		return llm.FuncCollaborator(func(context.Context, []llm.Message, []llm.Tool) llm.Result {
			started.Done()
			<-release
			return llm.Result{Content: "done"}
		})
	}
	m := NewManager()
	a, _ := m.Spawn(context.Background(), "security", factory)
	b, _ := m.Spawn(context.Background(), "tester", factory)

	var wg sync.WaitGroup
	for _, id := range []string{a, b} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Delegate(context.Background(), id, "go")
		}(id)
	}

	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()
	select {
	case <-both:
	case <-time.After(5 * time.Second):
		t.Fatal("delegations to different agents did not overlap")
	}
	close(release)
	wg.Wait()
}

func TestListInSpawnOrder(t *testing.T) {
	m := NewManager()
	var want []Summary
	for _, role := range []string{"security", "tester", "data science"} {
		id, err := m.Spawn(context.Background(), role, echo(""))
		require.NoError(t, err)
		want = append(want, Summary{ID: id, Role: role})
	}
	assert.Equal(t, want, m.List())

	assert.True(t, m.Remove(context.Background(), want[1].ID))
	assert.False(t, m.Remove(context.Background(), want[1].ID))
	assert.Equal(t, []Summary{want[0], want[2]}, m.List())
}

func TestMaxAgentsEvictsLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rec := &core.RecordingEmitter{}
	m := NewManager(WithMaxAgents(2), WithEmitter(rec), withClock(clock.Now))

	a, _ := m.Spawn(context.Background(), "security", echo(""))
	clock.Advance(time.Second)
	b, _ := m.Spawn(context.Background(), "tester", echo(""))
	clock.Advance(time.Second)
	_, err := m.Delegate(context.Background(), a, "touch")
	require.NoError(t, err)
	clock.Advance(time.Second)

	c, err := m.Spawn(context.Background(), "frontend", echo(""))
	require.NoError(t, err)
	assert.Equal(t, []Summary{{ID: a, Role: "security"}, {ID: c, Role: "frontend"}}, m.List())

	_, err = m.Delegate(context.Background(), b, "gone")
	assert.True(t, errors.HasCode(err, errors.CodeAgentNotFound))

	evicted := rec.Events(core.EventAgentEvicted)
	require.Len(t, evicted, 1)
	assert.Equal(t, b, evicted[0].Subject)
	assert.Equal(t, "capacity", evicted[0].Payload["reason"])
	assert.Len(t, rec.Events(core.EventAgentSpawned), 3)
	assert.Len(t, rec.Events(core.EventAgentDelegation), 1)
}

func TestSweepEvictsIdleAgents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewManager(WithIdleTTL(time.Minute), withClock(clock.Now))

	old, _ := m.Spawn(context.Background(), "security", echo(""))
	clock.Advance(50 * time.Second)
	fresh, _ := m.Spawn(context.Background(), "tester", echo(""))
	clock.Advance(20 * time.Second)

	assert.Equal(t, []string{old}, m.Sweep(context.Background()))
	assert.Equal(t, []Summary{{ID: fresh, Role: "tester"}}, m.List())

	assert.Empty(t, NewManager().Sweep(context.Background()), "no TTL means no sweep")
}
