/*
Package server exposes the console's suggestion indexes to front ends.

Two transports are provided. The IPC server speaks msgpack over
stdin/stdout, one message per request, matched to responses by id. The HTTP
server serves the same operations as a small JSON API.

# IPC

Query a dataset; this is answered synchronously from memory:

	{"id": "q1", "action": "query", "dataset": "puppet_plans", "q": "patching re", "l": 10}

	{"id": "q1", "d": "puppet_plans", "s": [{"v": "patching::reboot"}], "c": 1, "g": 3, "t": 41}

Refresh runs in the background and answers when the fetch completes, so
queries keep flowing while it is in flight:

	{"id": "r1", "action": "refresh", "dataset": "puppet_plans", "force": true}
	{"id": "p1", "action": "set_param", "param": "environment", "value": "staging"}
	{"id": "i1", "action": "invalidate", "dataset": "puppet_tasks"}
	{"id": "s1", "action": "status"}

Failures are reported with the error kind (fetch, response, parse) so the
caller can switch its error indicator on.
*/
package server

import (
	"github.com/bastiangx/hound/pkg/console"
	"github.com/bastiangx/hound/pkg/suggest"
)

// IPC actions
const (
	ActionQuery      = "query"
	ActionRefresh    = "refresh"
	ActionInvalidate = "invalidate"
	ActionSetParam   = "set_param"
	ActionStatus     = "status"
)

// Request is any IPC request; which fields matter depends on Action.
type Request struct {
	ID      string `msgpack:"id"`
	Action  string `msgpack:"action"`
	Dataset string `msgpack:"dataset,omitempty"`
	Query   string `msgpack:"q,omitempty"`
	Limit   int    `msgpack:"l,omitempty"`
	Force   bool   `msgpack:"force,omitempty"`
	Param   string `msgpack:"param,omitempty"`
	Value   string `msgpack:"value,omitempty"`
}

// QueryResponse carries suggestions in dataset order.
type QueryResponse struct {
	ID          string         `msgpack:"id"`
	Dataset     string         `msgpack:"d"`
	Suggestions []suggest.Item `msgpack:"s"`
	Count       int            `msgpack:"c"`
	Generation  uint64         `msgpack:"g"`
	TimeTaken   int64          `msgpack:"t"`
}

// RefreshResponse answers refresh, invalidate and set_param.
type RefreshResponse struct {
	ID         string   `msgpack:"id"`
	Status     string   `msgpack:"status"`
	Datasets   []string `msgpack:"datasets,omitempty"`
	Generation uint64   `msgpack:"generation,omitempty"`
	Error      string   `msgpack:"error,omitempty"`
	Kind       string   `msgpack:"kind,omitempty"`
}

// StatusResponse lists every dataset and the current parameters.
type StatusResponse struct {
	ID       string                  `msgpack:"id"`
	Status   string                  `msgpack:"status"`
	Datasets []console.DatasetStatus `msgpack:"datasets"`
	Params   map[string]string       `msgpack:"params"`
}

// ErrorResponse holds basic error information for a rejected request
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
