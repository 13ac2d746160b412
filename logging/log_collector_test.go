package logging

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(msg string) LogEntry {
	return LogEntry{Time: time.Now(), Level: "INFO", Message: msg, Attributes: map[string]any{}}
}

func TestCollector_AddAndLogs(t *testing.T) {
	c := NewCollector(0)
	c.Add("f1", entry("first"))
	c.Add("f1", entry("second"))
	c.Add("f2", entry("other"))

	logs := c.Logs("f1")
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.Nil(t, c.Logs("missing"))
	assert.Equal(t, []string{"f1", "f2"}, c.Flows())
}

func TestCollector_Bounded(t *testing.T) {
	c := NewCollector(3)
	for i := 0; i < 5; i++ {
		c.Add("f1", entry(fmt.Sprint(i)))
	}

	logs := c.Logs("f1")
	require.Len(t, logs, 3)
	assert.Equal(t, "2", logs[0].Message)
	assert.Equal(t, "4", logs[2].Message)
	assert.Equal(t, 2, c.Dropped("f1"))
	assert.Equal(t, 0, c.Dropped("f2"))
}

func TestCollector_LogsReturnsCopy(t *testing.T) {
	c := NewCollector(0)
	c.Add("f1", entry("original"))

	logs := c.Logs("f1")
	logs[0].Message = "modified"
	assert.Equal(t, "original", c.Logs("f1")[0].Message)
}

func TestCollector_ForgetAndClear(t *testing.T) {
	c := NewCollector(1)
	c.Add("f1", entry("a"))
	c.Add("f1", entry("b"))
	c.Add("f2", entry("c"))

	c.Forget("f1")
	assert.Nil(t, c.Logs("f1"))
	assert.Equal(t, 0, c.Dropped("f1"))
	assert.Equal(t, []string{"f2"}, c.Flows())

	c.Clear()
	assert.Empty(t, c.Flows())
}

func TestCollector_ConcurrentFlows(t *testing.T) {
	c := NewCollector(0)
	const flows = 10
	const perFlow = 50

	var wg sync.WaitGroup
	wg.Add(flows)
	for i := 0; i < flows; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("flow-%d", i)
			for j := 0; j < perFlow; j++ {
				c.Add(id, entry("concurrent"))
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, c.Flows(), flows)
	for _, id := range c.Flows() {
		assert.Len(t, c.Logs(id), perFlow, "flow %s", id)
	}
}
