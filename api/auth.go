/*
auth.go - Actor identity and static capability grants

PURPOSE:
  The engine asks yes/no capability questions; this file answers them
  from a static grant table and extracts the acting user from the
  request. Swap StaticCapabilities for a directory-backed checker when
  real authentication arrives.

ACTOR IDENTITY:
  Requests carry the acting user in the X-Actor-ID header. Absent the
  header the actor is "anonymous", which holds no grants.
*/
package api

import "net/http"

const actorHeader = "X-Actor-ID"

// StaticCapabilities grants capabilities per actor. The "*" actor key grants
// to everyone.
type StaticCapabilities map[string][]string

func (s StaticCapabilities) HasCapability(actorID, capability string) bool {
	for _, grants := range [][]string{s[actorID], s["*"]} {
		for _, c := range grants {
			if c == capability {
				return true
			}
		}
	}
	return false
}

func actorID(r *http.Request) string {
	if id := r.Header.Get(actorHeader); id != "" {
		return id
	}
	return "anonymous"
}
