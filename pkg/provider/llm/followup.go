package llm

// PrepareFollowup assembles call options for the post-tool-execution
// follow-up call. [FollowupInput] carries no tool fields, so this path can
// never offer tools to the model, regardless of what the original request
// configured. The orchestrator must build all follow-up calls through here.
func PrepareFollowup(a Adapter, in FollowupInput) (*CallOptions, error) {
	return a.PrepareOptions(PrepareInput{
		Prompt:       in.Prompt,
		History:      in.History,
		Options:      in.Options,
		SystemPrompt: in.SystemPrompt,
		Model:        in.Model,
	})
}
