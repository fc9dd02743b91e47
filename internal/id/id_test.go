package id

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_Format(t *testing.T) {
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	for i := 0; i < 50; i++ {
		got := UUID()
		assert.Regexp(t, uuidRegex, got)
	}
}

func TestULID_SortableWithinProcess(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = ULID()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "monotonic ULIDs must already be sorted")

	for _, v := range ids {
		assert.Len(t, v, 26)
	}
}

func TestULID_ConcurrentUnique(t *testing.T) {
	const workers, perWorker = 8, 250

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := ULID()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestPrefixed(t *testing.T) {
	assert.True(t, strings.HasPrefix(Prefixed("ws"), "ws-"))
	assert.Len(t, Prefixed(""), 26)
}
