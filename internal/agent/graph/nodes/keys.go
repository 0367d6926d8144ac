package nodes

// Node names used when wiring the pipeline graph.
const (
	NodeEntryGuard       = "EntryGuard"
	NodeHumanHandoff     = "HumanHandoff"
	NodeContextAssembler = "ContextAssembler"
	NodeChatModel        = "ChatModel"
	NodeToolExecutor     = "ToolExecutor"
	NodeOutputGuard      = "OutputGuard"
	NodeTerminal         = "Terminal"
)
