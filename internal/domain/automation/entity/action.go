package entity

// ActionType identifies what the dispatcher should do
type ActionType string

const (
	ActionSendMessage ActionType = "send_message"
	ActionCallAI      ActionType = "call_ai"
	ActionPersistLead ActionType = "persist_lead"
)

// LeadField names a collected-data field for persist_lead actions
type LeadField string

const (
	LeadEmail LeadField = "email"
	LeadPhone LeadField = "phone"
)

// Action is one side effect decided by the transition engine. Actions
// are executed in order by the dispatcher; execution failures never roll
// back the state transition that produced them.
type Action struct {
	Type  ActionType
	Text  string    // send_message reply text
	Field LeadField // persist_lead target field
	Value string    // persist_lead value
}

// SendMessage builds a send_message action
func SendMessage(text string) Action {
	return Action{Type: ActionSendMessage, Text: text}
}

// CallAI builds a call_ai action
func CallAI() Action {
	return Action{Type: ActionCallAI}
}

// PersistLead builds a persist_lead action
func PersistLead(field LeadField, value string) Action {
	return Action{Type: ActionPersistLead, Field: field, Value: value}
}
