package utils_test

import (
	"sync"
	"tabular-backend/internal/core/utils"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMutexMap_RunSequentiallyWhenSameKey(t *testing.T) {
	m := utils.NewMutexMap[uuid.UUID]()
	key := uuid.New()

	sleepDuration := 200 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(key)
			defer unlock()
			time.Sleep(sleepDuration)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 2*sleepDuration, "routines holding the same key should run sequentially")
	assert.Equal(t, 0, m.Len())
}

func TestMutexMap_RunConcurrentlyWhenDifferentKeys(t *testing.T) {
	m := utils.NewMutexMap[string]()

	sleepDuration := 200 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := m.Lock(key)
			defer unlock()
			time.Sleep(sleepDuration)
		}(key)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 3*sleepDuration, "routines holding different keys should overlap")
	assert.Equal(t, 0, m.Len())
}

func TestMutexMap_CounterUnderContention(t *testing.T) {
	m := utils.NewMutexMap[string]()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("counter")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
