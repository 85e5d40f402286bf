package outcome

// State is the position of a sales conversation in the outcome state machine.
type State int

const (
	StateStart State = iota
	StateAwaitingName
	StateAwaitingPhone
	StateDeclined
	StateCompleted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateAwaitingName:
		return "AWAITING_NAME"
	case StateAwaitingPhone:
		return "AWAITING_PHONE"
	case StateDeclined:
		return "DECLINED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the conversation has concluded.
func (s State) Terminal() bool {
	return s == StateDeclined || s == StateCompleted
}

// Record is the outcome of one sales conversation.
//
// Purchase decision and completion are derived from the state, so a record can
// never hold a phone number without a name or a name without a positive
// decision. A Record is not safe for concurrent use; the agent runtime
// serializes tool calls per session.
type Record struct {
	state       State
	userName    string
	phoneNumber string
	prompts     Prompts
}

// New returns an empty record using the given reply texts.
// Zero-valued prompts fall back to DefaultPrompts.
func New(prompts Prompts) *Record {
	return &Record{state: StateStart, prompts: prompts.withDefaults()}
}

// Result describes the effect of a recorder call.
type Result struct {
	Reply   string
	Applied bool
	From    State
	To      State
}

// Snapshot is the serialized view of a Record.
type Snapshot struct {
	WantsToBuy            *bool   `json:"wants_to_buy"`
	UserName              *string `json:"user_name"`
	PhoneNumber           *string `json:"phone_number"`
	ConversationCompleted bool    `json:"conversation_completed"`
}

func (r *Record) State() State { return r.state }

// WantsToBuy returns the purchase decision and whether one was recorded.
func (r *Record) WantsToBuy() (wants bool, known bool) {
	switch r.state {
	case StateStart:
		return false, false
	case StateDeclined:
		return false, true
	default:
		return true, true
	}
}

func (r *Record) UserName() (string, bool) {
	if r.state == StateAwaitingPhone || r.state == StateCompleted {
		return r.userName, true
	}
	return "", false
}

func (r *Record) PhoneNumber() (string, bool) {
	if r.state == StateCompleted {
		return r.phoneNumber, true
	}
	return "", false
}

// Completed reports whether the conversation reached a terminal state.
func (r *Record) Completed() bool { return r.state.Terminal() }

func (r *Record) Snapshot() Snapshot {
	var s Snapshot
	if wants, known := r.WantsToBuy(); known {
		s.WantsToBuy = &wants
	}
	if name, ok := r.UserName(); ok {
		s.UserName = &name
	}
	if phone, ok := r.PhoneNumber(); ok {
		s.PhoneNumber = &phone
	}
	s.ConversationCompleted = r.Completed()
	return s
}

// RecordDecision stores the customer's purchase decision.
//
// A positive decision opens contact capture; a negative one concludes the
// conversation and discards any partially captured contact details.
func (r *Record) RecordDecision(wantsToBuy bool) Result {
	from := r.state
	switch {
	case from.Terminal():
		return r.reject(r.prompts.AlreadyConcluded)
	case !wantsToBuy:
		r.userName = ""
		r.phoneNumber = ""
		return r.move(StateDeclined, r.prompts.Declined)
	case from == StateStart:
		return r.move(StateAwaitingName, r.prompts.AskName)
	case from == StateAwaitingPhone:
		return r.reject(render(r.prompts.AskPhone, r.userName, ""))
	default:
		return r.reject(r.prompts.AskName)
	}
}

// RecordName stores the customer's name. It requires a positive decision.
func (r *Record) RecordName(name string) Result {
	switch r.state {
	case StateAwaitingName, StateAwaitingPhone:
		r.userName = name
		return r.move(StateAwaitingPhone, render(r.prompts.AskPhone, name, ""))
	case StateStart:
		return r.reject(r.prompts.NeedDecision)
	default:
		return r.reject(r.prompts.AlreadyConcluded)
	}
}

// RecordPhone stores the customer's phone number and concludes the
// conversation. It requires a positive decision and a recorded name.
func (r *Record) RecordPhone(phone string) Result {
	switch r.state {
	case StateAwaitingPhone:
		r.phoneNumber = phone
		return r.move(StateCompleted, render(r.prompts.Completed, r.userName, phone))
	case StateAwaitingName:
		return r.reject(r.prompts.NeedName)
	case StateStart:
		return r.reject(r.prompts.NeedDecision)
	default:
		return r.reject(r.prompts.AlreadyConcluded)
	}
}

func (r *Record) move(to State, reply string) Result {
	from := r.state
	r.state = to
	return Result{Reply: reply, Applied: true, From: from, To: to}
}

func (r *Record) reject(reply string) Result {
	return Result{Reply: reply, Applied: false, From: r.state, To: r.state}
}
