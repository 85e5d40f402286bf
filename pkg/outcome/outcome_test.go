package outcome

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHappyPath(t *testing.T) {
	rec := New(Prompts{})
	steps := []Result{
		rec.RecordDecision(true),
		rec.RecordName("Alice"),
		rec.RecordPhone("555-1234"),
	}
	want := []State{StateAwaitingName, StateAwaitingPhone, StateCompleted}
	for i, res := range steps {
		if !res.Applied {
			t.Fatalf("step %d: expected applied", i)
		}
		if res.To != want[i] {
			t.Fatalf("step %d: expected %s, got %s", i, want[i], res.To)
		}
	}
	snap := rec.Snapshot()
	if snap.WantsToBuy == nil || !*snap.WantsToBuy {
		t.Fatalf("expected wants_to_buy true")
	}
	if snap.UserName == nil || *snap.UserName != "Alice" {
		t.Fatalf("expected user_name Alice, got %v", snap.UserName)
	}
	if snap.PhoneNumber == nil || *snap.PhoneNumber != "555-1234" {
		t.Fatalf("expected phone_number 555-1234, got %v", snap.PhoneNumber)
	}
	if !snap.ConversationCompleted {
		t.Fatalf("expected conversation completed")
	}
	last := steps[2].Reply
	if !strings.Contains(last, "Alice") || !strings.Contains(last, "555-1234") {
		t.Fatalf("expected closing reply to name customer and phone, got %q", last)
	}
}

func TestDeclinePath(t *testing.T) {
	rec := New(Prompts{})
	res := rec.RecordDecision(false)
	if !res.Applied || res.To != StateDeclined {
		t.Fatalf("expected decline transition, got %+v", res)
	}
	if res.Reply != DefaultPrompts.Declined {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	b, err := json.Marshal(rec.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"wants_to_buy":false,"user_name":null,"phone_number":null,"conversation_completed":true}`
	if string(b) != want {
		t.Fatalf("expected %s, got %s", want, b)
	}
}

func TestEmptyRecordSnapshot(t *testing.T) {
	b, err := json.Marshal(New(Prompts{}).Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"wants_to_buy":null,"user_name":null,"phone_number":null,"conversation_completed":false}`
	if string(b) != want {
		t.Fatalf("expected %s, got %s", want, b)
	}
}

func TestPhoneBeforeNameIsRejected(t *testing.T) {
	rec := New(Prompts{})
	rec.RecordDecision(true)
	before := rec.Snapshot()
	res := rec.RecordPhone("555-1234")
	if res.Applied {
		t.Fatalf("expected phone before name to be rejected")
	}
	if res.Reply != DefaultPrompts.NeedName {
		t.Fatalf("expected guidance reply, got %q", res.Reply)
	}
	if !sameSnapshot(before, rec.Snapshot()) {
		t.Fatalf("expected no mutation")
	}
}

func TestContactBeforeDecisionIsRejected(t *testing.T) {
	rec := New(Prompts{})
	if res := rec.RecordName("Alice"); res.Applied || res.Reply != DefaultPrompts.NeedDecision {
		t.Fatalf("expected name to require decision, got %+v", res)
	}
	if res := rec.RecordPhone("555-1234"); res.Applied || res.Reply != DefaultPrompts.NeedDecision {
		t.Fatalf("expected phone to require decision, got %+v", res)
	}
	if rec.State() != StateStart {
		t.Fatalf("expected START, got %s", rec.State())
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	declined := New(Prompts{})
	declined.RecordDecision(false)
	for _, res := range []Result{
		declined.RecordDecision(true),
		declined.RecordName("Bob"),
		declined.RecordPhone("555-0000"),
	} {
		if res.Applied || res.Reply != DefaultPrompts.AlreadyConcluded {
			t.Fatalf("expected declined session to stay closed, got %+v", res)
		}
	}
	if declined.State() != StateDeclined {
		t.Fatalf("expected DECLINED, got %s", declined.State())
	}

	completed := New(Prompts{})
	completed.RecordDecision(true)
	completed.RecordName("Alice")
	completed.RecordPhone("555-1234")
	if res := completed.RecordDecision(false); res.Applied {
		t.Fatalf("expected completed session to reject decision flip")
	}
	if phone, _ := completed.PhoneNumber(); phone != "555-1234" {
		t.Fatalf("expected phone preserved, got %q", phone)
	}
}

func TestDeclineDuringCaptureDiscardsName(t *testing.T) {
	rec := New(Prompts{})
	rec.RecordDecision(true)
	rec.RecordName("Alice")
	res := rec.RecordDecision(false)
	if !res.Applied || res.To != StateDeclined {
		t.Fatalf("expected decline from AWAITING_PHONE, got %+v", res)
	}
	if _, ok := rec.UserName(); ok {
		t.Fatalf("expected name discarded after decline")
	}
}

func TestRepeatedPositiveDecisionKeepsProgress(t *testing.T) {
	rec := New(Prompts{})
	rec.RecordDecision(true)
	rec.RecordName("Alice")
	res := rec.RecordDecision(true)
	if res.Applied {
		t.Fatalf("expected repeated decision to be a no-op")
	}
	if !strings.Contains(res.Reply, "Alice") {
		t.Fatalf("expected re-prompt for phone, got %q", res.Reply)
	}
	if rec.State() != StateAwaitingPhone {
		t.Fatalf("expected AWAITING_PHONE, got %s", rec.State())
	}
}

func TestNameCorrectionBeforePhone(t *testing.T) {
	rec := New(Prompts{})
	rec.RecordDecision(true)
	rec.RecordName("Alise")
	rec.RecordName("Alice")
	rec.RecordPhone("555-1234")
	if name, _ := rec.UserName(); name != "Alice" {
		t.Fatalf("expected corrected name, got %q", name)
	}
}

func TestPromptPlaceholders(t *testing.T) {
	tests := []struct {
		name         string
		prompts      Prompts
		wantAsk      string
		wantComplete string
	}{
		{
			name:         "no placeholders",
			prompts:      Prompts{AskPhone: "Now ask for their phone number.", Completed: "Thanks %s, we will call you."},
			wantAsk:      "Now ask for their phone number.",
			wantComplete: "Thanks %s, we will call you.",
		},
		{
			name:         "reordered placeholders",
			prompts:      Prompts{AskPhone: "Phone for {name}?", Completed: "Call {phone} and greet {name}, {name}."},
			wantAsk:      "Phone for Alice?",
			wantComplete: "Call 555-1234 and greet Alice, Alice.",
		},
		{
			name:         "phone placeholder before capture",
			prompts:      Prompts{AskPhone: "Name {name}, phone {phone}."},
			wantAsk:      "Name Alice, phone .",
			wantComplete: "Thank you, Alice. Confirm that we will contact them at 555-1234 to finalize the purchase, then say goodbye.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := New(tt.prompts)
			rec.RecordDecision(true)
			if got := rec.RecordName("Alice").Reply; got != tt.wantAsk {
				t.Fatalf("ask phone: expected %q, got %q", tt.wantAsk, got)
			}
			if got := rec.RecordPhone("555-1234").Reply; got != tt.wantComplete {
				t.Fatalf("completed: expected %q, got %q", tt.wantComplete, got)
			}
		})
	}
}

func TestCustomPrompts(t *testing.T) {
	rec := New(Prompts{AskName: "name please"})
	if res := rec.RecordDecision(true); res.Reply != "name please" {
		t.Fatalf("expected custom prompt, got %q", res.Reply)
	}
	if res := rec.RecordName("Alice"); res.Reply != "Thanks, Alice. Now ask for the best phone number to reach them." {
		t.Fatalf("expected default phone prompt, got %q", res.Reply)
	}
}

type step struct {
	name string
	do   func(*Record) Result
}

var steps = []step{
	{"decision(true)", func(r *Record) Result { return r.RecordDecision(true) }},
	{"decision(false)", func(r *Record) Result { return r.RecordDecision(false) }},
	{"name", func(r *Record) Result { return r.RecordName("Alice") }},
	{"phone", func(r *Record) Result { return r.RecordPhone("555-1234") }},
}

// Walks every call sequence up to length 5 and checks the record invariants
// after each call.
func TestInvariantsHoldForAllSequences(t *testing.T) {
	var walk func(trace []string, rec *Record, depth int)
	walk = func(trace []string, rec *Record, depth int) {
		if depth == 0 {
			return
		}
		for _, s := range steps {
			clone := *rec
			before := clone.Snapshot()
			wasCompleted := clone.Completed()
			res := s.do(&clone)
			path := append(append([]string{}, trace...), s.name)
			after := clone.Snapshot()

			if after.PhoneNumber != nil && after.UserName == nil {
				t.Fatalf("%v: phone without name", path)
			}
			if after.UserName != nil && (after.WantsToBuy == nil || !*after.WantsToBuy) {
				t.Fatalf("%v: name without positive decision", path)
			}
			if wasCompleted && !after.ConversationCompleted {
				t.Fatalf("%v: completion reset", path)
			}
			if !res.Applied && !sameSnapshot(before, after) {
				t.Fatalf("%v: rejected call mutated record", path)
			}
			if res.Reply == "" {
				t.Fatalf("%v: empty reply", path)
			}
			if after.ConversationCompleted {
				declined := after.WantsToBuy != nil && !*after.WantsToBuy
				contact := after.PhoneNumber != nil
				if declined == contact {
					t.Fatalf("%v: expected exactly one terminal path, declined=%v contact=%v", path, declined, contact)
				}
			}
			walk(path, &clone, depth-1)
		}
	}
	walk(nil, New(Prompts{}), 5)
}

func sameSnapshot(a, b Snapshot) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
