package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreSeedsGreeting(t *testing.T) {
	store := NewStore("", 0)

	turns := store.Snapshot()
	require.Len(t, turns, 1)
	assert.Equal(t, AssistantTurn(DefaultGreeting), turns[0])
	assert.Equal(t, DefaultMaxTurns, store.MaxTurns())
}

func TestAppendKeepsOrderUnderCap(t *testing.T) {
	store := NewStore("hi", 10)

	require.NoError(t, store.Append(UserTurn("one")))
	require.NoError(t, store.Append(AssistantTurn("two")))

	assert.Equal(t, []Turn{
		AssistantTurn("hi"),
		UserTurn("one"),
		AssistantTurn("two"),
	}, store.Snapshot())
}

func TestTrimScenario(t *testing.T) {
	g := AssistantTurn("G")
	store := NewStore(g.Text, 3)

	for _, turn := range []Turn{UserTurn("U1"), AssistantTurn("A1"), UserTurn("U2"), AssistantTurn("A2")} {
		require.NoError(t, store.Append(turn))
	}

	assert.Equal(t, []Turn{g, UserTurn("U2"), AssistantTurn("A2")}, store.Snapshot())
}

func TestTrimKeepsGreetingAndNewest(t *testing.T) {
	for _, maxTurns := range []int{1, 2, 5, 50} {
		t.Run(fmt.Sprintf("max=%d", maxTurns), func(t *testing.T) {
			store := NewStore("greeting", maxTurns)

			var appended []Turn
			for i := 0; i < maxTurns*3+7; i++ {
				turn := UserTurn(fmt.Sprintf("u%d", i))
				if i%2 == 1 {
					turn = AssistantTurn(fmt.Sprintf("a%d", i))
				}
				appended = append(appended, turn)
				require.NoError(t, store.Append(turn))
				require.LessOrEqual(t, store.Len(), maxTurns)
			}

			turns := store.Snapshot()
			require.Len(t, turns, maxTurns)
			assert.Equal(t, AssistantTurn("greeting"), turns[0])
			assert.Equal(t, appended[len(appended)-(maxTurns-1):], turns[1:])
		})
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	store := NewStore("hi", 5)
	snap := store.Snapshot()
	snap[0].Text = "mutated"

	assert.Equal(t, "hi", store.Snapshot()[0].Text)
}

func TestConcurrentAppends(t *testing.T) {
	store := NewStore("hi", 20)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(UserTurn(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	turns := store.Snapshot()
	assert.Len(t, turns, 20)
	assert.Equal(t, "hi", turns[0].Text)
}
