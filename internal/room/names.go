package room

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var moods = []string{
	"brave", "calm", "eager", "gentle", "jolly", "keen", "lively", "mellow", "nimble", "proud",
	"quiet", "rapid", "sunny", "swift", "tidy", "vivid", "witty", "zesty", "bold", "cosy",
}

var creatures = []string{
	"otter", "heron", "lynx", "badger", "falcon", "gecko", "ibis", "koala", "lemur", "marten",
	"newt", "ocelot", "puffin", "quokka", "raven", "stoat", "tapir", "vole", "walrus", "yak",
}

var places = []string{
	"harbor", "meadow", "canyon", "grove", "summit", "lagoon", "prairie", "delta", "fjord", "mesa",
	"orchard", "reef", "tundra", "valley", "marsh", "dune", "glade", "ridge", "cove", "atoll",
}

var things = []string{
	"lantern", "compass", "kettle", "anchor", "banjo", "beacon", "candle", "drum", "easel", "flute",
	"harp", "jigsaw", "kite", "ladder", "mitten", "needle", "paddle", "quill", "rocket", "saddle",
}

// GenerateName returns a memorable room name such as "swift-otter-harbor",
// built from three different word lists.
func GenerateName() string {
	lists := [][]string{moods, creatures, places, things}

	words := make([]string, 0, 3)
	used := make(map[int]bool)
	for len(words) < 3 {
		i := randomIndex(len(lists))
		if used[i] {
			continue
		}
		used[i] = true
		words = append(words, lists[i][randomIndex(len(lists[i]))])
	}
	return strings.Join(words, "-")
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("room: failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}
