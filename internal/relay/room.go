package relay

import (
	"sort"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Room is a password-protected set of authenticated members.
type Room struct {
	ID       string
	password string
	members  map[string]*Client
	joined   []string
}

func newRoom(id, password string) *Room {
	return &Room{ID: id, password: password, members: make(map[string]*Client)}
}

func (r *Room) add(c *Client) {
	r.members[c.userID] = c
	r.joined = append(r.joined, c.userID)
}

func (r *Room) remove(c *Client) bool {
	if r.members[c.userID] != c {
		return false
	}
	delete(r.members, c.userID)
	for i, id := range r.joined {
		if id == c.userID {
			r.joined = append(r.joined[:i], r.joined[i+1:]...)
			break
		}
	}
	return true
}

// roster lists members other than except, in join order.
func (r *Room) roster(except string) []signaling.Participant {
	out := make([]signaling.Participant, 0, len(r.joined))
	for _, id := range r.joined {
		if id == except {
			continue
		}
		c := r.members[id]
		out = append(out, signaling.Participant{
			UserID:   c.userID,
			Username: c.username,
			AudioOn:  c.audioOn,
			VideoOn:  c.videoOn,
		})
	}
	return out
}

// others returns every member except c.
func (r *Room) others(c *Client) []*Client {
	out := make([]*Client, 0, len(r.members))
	for id, m := range r.members {
		if id != c.userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}
