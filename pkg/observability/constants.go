package observability

const (
	AttrProfileType  = "profile.type"
	AttrProfileTag   = "profile.tag"
	AttrPhaseNumber  = "phase.number"
	AttrToolName     = "tool.name"
	AttrLLMModel     = "llm.model"
	AttrLLMChannel   = "llm.channel"
	AttrTurnStatus   = "turn.status"
	AttrErrorType    = "error.type"
	AttrHTTPMethod   = "http.method"
	AttrHTTPPath     = "http.path"
	AttrStatusCode   = "http.status_code"

	SpanTurn        = "engine.turn"
	SpanPlanning    = "engine.planning"
	SpanPhase       = "engine.phase"
	SpanLLMRequest  = "engine.llm_request"
	SpanToolCall    = "engine.tool_call"
	SpanHTTPRequest = "http.request"

	DefaultServiceName = "praxis"
)
