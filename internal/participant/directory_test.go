package participant

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

func ids(ps []Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestAddIsIdempotentAndOrdered(t *testing.T) {
	d := NewDirectory()
	require.True(t, d.Add(Participant{ID: "u2", DisplayName: "bob"}))
	require.True(t, d.Add(Participant{ID: "u3", DisplayName: "carol"}))
	require.False(t, d.Add(Participant{ID: "u2", DisplayName: "impostor"}))

	require.Equal(t, []string{"u2", "u3"}, ids(d.List()))
	p, ok := d.Get("u2")
	require.True(t, ok)
	require.Equal(t, "bob", p.DisplayName)
}

func TestRemoveAndUpdateAreTotal(t *testing.T) {
	d := NewDirectory()
	require.False(t, d.Remove("ghost"))
	require.False(t, d.UpdateStatus("ghost", signaling.MediaVideo, true))

	d.Add(Participant{ID: "u2"})
	require.True(t, d.UpdateStatus("u2", signaling.MediaVideo, true))
	require.False(t, d.UpdateStatus("u2", signaling.MediaVideo, true))
	require.True(t, d.UpdateStatus("u2", signaling.MediaAudio, true))
	require.False(t, d.UpdateStatus("u2", signaling.Media("hologram"), true))

	p, _ := d.Get("u2")
	require.True(t, p.VideoOn)
	require.True(t, p.AudioOn)

	require.True(t, d.Remove("u2"))
	require.Zero(t, d.Len())
}

func TestSnapshotsAreCopies(t *testing.T) {
	d := NewDirectory()
	d.Add(Participant{ID: "u2"})
	snap := d.List()
	snap[0].VideoOn = true

	p, _ := d.Get("u2")
	require.False(t, p.VideoOn)
}

func TestOnChangeOnlyForRealChanges(t *testing.T) {
	d := NewDirectory()
	var snaps [][]string
	d.OnChange(func(ps []Participant) { snaps = append(snaps, ids(ps)) })

	d.Add(Participant{ID: "u2"})
	d.Add(Participant{ID: "u2"})
	d.Remove("nobody")
	d.Add(Participant{ID: "u3"})
	d.Remove("u2")
	d.Clear()
	d.Clear()

	require.Equal(t, [][]string{{"u2"}, {"u2", "u3"}, {"u3"}, {}}, snaps)
}

func TestRandomSequencesMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		d := NewDirectory()
		var model []string
		for step := 0; step < 200; step++ {
			id := fmt.Sprintf("u%d", rng.Intn(12))
			if rng.Intn(2) == 0 {
				d.Add(Participant{ID: id})
				if !contains(model, id) {
					model = append(model, id)
				}
			} else {
				d.Remove(id)
				model = without(model, id)
			}
		}
		if len(model) == 0 {
			require.Empty(t, d.List())
			continue
		}
		require.Equal(t, model, ids(d.List()))
	}
}

func TestConcurrentAdds(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Add(Participant{ID: fmt.Sprintf("u%d", i%4)})
		}(i)
	}
	wg.Wait()
	require.Equal(t, 4, d.Len())
}

func TestFromWire(t *testing.T) {
	p := FromWire(signaling.Participant{UserID: "u9", Username: "zed", AudioOn: true})
	require.Equal(t, Participant{ID: "u9", DisplayName: "zed", AudioOn: true}, p)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func without(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
