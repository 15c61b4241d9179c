package model

// Factory builds events pre-tagged with one engine id. Runners hold one per
// run so translation code never repeats the engine.
type Factory struct {
	Engine EngineID
}

func NewFactory(engine EngineID) Factory {
	return Factory{Engine: engine}
}

func (f Factory) Started(resume ResumeToken, title string, meta map[string]any) Started {
	return Started{Engine: f.Engine, Resume: resume, Title: title, Meta: meta}
}

func (f Factory) ActionStarted(id string, kind ActionKind, title string, detail map[string]any) ActionEvent {
	return ActionEvent{
		Engine: f.Engine,
		Action: Action{ID: id, Kind: kind, Title: title, Detail: detail},
		Phase:  PhaseStarted,
	}
}

func (f Factory) ActionUpdated(id string, kind ActionKind, title string, detail map[string]any) ActionEvent {
	return ActionEvent{
		Engine: f.Engine,
		Action: Action{ID: id, Kind: kind, Title: title, Detail: detail},
		Phase:  PhaseUpdated,
	}
}

func (f Factory) ActionCompleted(id string, kind ActionKind, title string, ok bool, detail map[string]any) ActionEvent {
	return ActionEvent{
		Engine: f.Engine,
		Action: Action{ID: id, Kind: kind, Title: title, Detail: detail},
		Phase:  PhaseCompleted,
		OK:     &ok,
	}
}

// Note is a one-off informational action, completed on arrival.
func (f Factory) Note(id, title string, ok bool, detail map[string]any) ActionEvent {
	kind := ActionNote
	if !ok {
		kind = ActionWarning
	}
	return f.ActionCompleted(id, kind, title, ok, detail)
}

func (f Factory) CompletedOK(answer string, resume *ResumeToken) Completed {
	return Completed{Engine: f.Engine, OK: true, Answer: answer, Resume: resume}
}

func (f Factory) CompletedError(errMsg string, resume *ResumeToken) Completed {
	return Completed{Engine: f.Engine, OK: false, Error: errMsg, Resume: resume}
}

func (f Factory) InputRequest(requestID, question string, source InputSource, context string, urgency Urgency) InputRequest {
	return InputRequest{
		Engine:    f.Engine,
		RequestID: requestID,
		Question:  question,
		Source:    source,
		Context:   context,
		Urgency:   urgency,
	}
}
