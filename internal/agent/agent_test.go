package agent

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
)

func population(n int) []Agent {
	out := make([]Agent, n)
	for i := range out {
		out[i] = Agent{ID: fmt.Sprintf("a%d", i), Name: fmt.Sprintf("Agent %d", i), Email: fmt.Sprintf("a%d@example.com", i)}
	}
	return out
}

func TestSampleBounds(t *testing.T) {
	t.Parallel()
	s := NewSampler(5, 20, rand.NewSource(1))
	agents := population(100)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		got := s.Sample(agents)
		if len(got) < 5 || len(got) >= 20 {
			t.Fatalf("sample size %d outside [5,20)", len(got))
		}
		seen[len(got)] = true
	}
	for n := 5; n < 20; n++ {
		if !seen[n] {
			t.Fatalf("size %d never drawn", n)
		}
	}
}

func TestSampleCappedAtPopulation(t *testing.T) {
	t.Parallel()
	s := NewSampler(5, 20, rand.NewSource(2))
	agents := population(3)
	for i := 0; i < 100; i++ {
		if got := s.Sample(agents); len(got) != 3 {
			t.Fatalf("len=%d want 3", len(got))
		}
	}
}

func TestSampleEmpty(t *testing.T) {
	t.Parallel()
	if got := NewSampler(5, 20, rand.NewSource(3)).Sample(nil); got != nil {
		t.Fatalf("want nil, got %v", got)
	}
}

func TestSampleDistinctAndInputUntouched(t *testing.T) {
	t.Parallel()
	agents := population(30)
	orig := append([]Agent(nil), agents...)
	got := NewSampler(10, 11, rand.NewSource(4)).Sample(agents)

	if len(got) != 10 {
		t.Fatalf("len=%d want 10", len(got))
	}
	ids := map[string]bool{}
	for _, a := range got {
		if ids[a.ID] {
			t.Fatalf("duplicate %s", a.ID)
		}
		ids[a.ID] = true
	}
	for i := range agents {
		if agents[i].ID != orig[i].ID {
			t.Fatalf("input reordered at %d", i)
		}
	}
}

func TestSampleEveryAgentCanLead(t *testing.T) {
	t.Parallel()
	s := NewSampler(1, 2, rand.NewSource(5))
	agents := population(8)
	first := map[string]int{}
	for i := 0; i < 4000; i++ {
		first[s.Sample(agents)[0].ID]++
	}
	for _, a := range agents {
		// Uniform expectation is 500 per agent.
		if first[a.ID] < 350 {
			t.Fatalf("agent %s led only %d times: %v", a.ID, first[a.ID], first)
		}
	}
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	a := Agent{ID: "1", Name: "Ann", Email: "ann@example.com", Profile: map[string]any{"job": "nurse"}}
	var back map[string]any
	if err := json.Unmarshal([]byte(a.Flatten()), &back); err != nil {
		t.Fatalf("flatten not JSON: %v", err)
	}
	if back["name"] != "Ann" || back["profile"].(map[string]any)["job"] != "nurse" {
		t.Fatalf("unexpected flatten: %v", back)
	}
	if _, ok := back["machine_id"]; ok {
		t.Fatalf("empty machine_id should be omitted")
	}
}
