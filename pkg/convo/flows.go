package convo

// registerFlows wires the whole conversation tree: two roots and their
// child flows, with delegation back to the parent menu.
func (e *Engine) registerFlows() {
	e.register(e.recordFlow())
	e.register(e.newRecordFlow())
	e.register(e.settingsFlow())
	e.register(e.loginFlow())
	e.register(e.spreadsheetFlow())
	e.register(e.prefsFlow())
	e.register(e.scheduleFlow())

	e.registerRoot("record", FlowRecord)
	e.registerRoot("settings", FlowSettings)

	e.delegate(FlowNewRecord, FlowRecord, StateSelectAction)
	e.delegate(FlowLogin, FlowSettings, StateSelectAction)
	e.delegate(FlowSpreadsheet, FlowSettings, StateSelectAction)
	e.delegate(FlowPrefs, FlowSettings, StateSelectAction)
	e.delegate(FlowSchedule, FlowSettings, StateSelectAction)

	e.fallback = func(_ *Session) []Reply {
		return []Reply{{Text: "I did not get that. Use /record to add records or /settings to configure me."}}
	}
}
