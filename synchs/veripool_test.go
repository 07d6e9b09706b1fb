package synchs

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestVeriPoolReportsVerdicts(t *testing.T) {
	vp := NewVeriPool(2, hclog.NewNullLogger())
	defer vp.Close()

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		vp.Submit(func() bool { return i%2 == 0 }).Then(func(v interface{}) {
			results[i] = v.(bool)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("verdicts were not delivered in time")
	}
	for i, r := range results {
		assert.Equal(t, i%2 == 0, r, "task %d", i)
	}
}

func TestVeriPoolCloseIsIdempotent(t *testing.T) {
	vp := NewVeriPool(1, hclog.NewNullLogger())
	vp.Close()
	vp.Close()
}
