// Package praxis is an agentic execution engine: it turns a natural-language
// request into a multi-phase plan, deterministically repairs the plan against
// a tool catalog, and executes each phase with retry, self-correction, and
// orchestrator fall-back, streaming progress as server-sent events.
//
// Tools and prompt libraries are discovered over the Model Context Protocol
// (stdio or streamable HTTP). Conversations, turn audit records, prompt
// versions, and model cost tables persist through a SQL session store
// (SQLite, PostgreSQL, or MySQL).
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/praxislabs/praxis/cmd/praxis@latest
//
// Point it at a config and an MCP server:
//
//	praxis serve --config praxis.yaml
//
// Then stream a turn:
//
//	curl -N -H "X-User-ID: u1" -d '{"query":"list tables in database SALES"}' \
//	  http://localhost:8080/v1/sessions/s1/turns
//
// The packages under pkg/ are usable as a library; pkg/executor.PlanExecutor
// is the top-level turn controller.
package praxis
